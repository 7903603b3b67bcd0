package state

var (
	vaultPositionPrefix = []byte("vault/position/")
	vaultRequestPrefix  = []byte("vault/request/")
	vaultRequestSeqKey  = []byte("vault/request-seq")
	vaultPendingKey     = []byte("vault/request-pending")

	bankBalancePrefix  = []byte("bank/balance/")
	bankReceiveOffKey  = []byte("bank/receive-disabled/")
	tokenBalancePrefix = []byte("ctoken/balance/")
	tokenSupplyKey     = []byte("ctoken/supply")
)

func prefixed(prefix []byte, id []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(id))
	out = append(out, prefix...)
	return append(out, id...)
}
