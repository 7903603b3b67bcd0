package relayer

import (
	"context"

	"cipherlend/core"
	"cipherlend/core/types"
	"cipherlend/fhe"
	"cipherlend/rpc/client"
)

// Event is a committed ledger event as seen by the relayer.
type Event struct {
	Sequence   uint64
	Type       string
	Attributes map[string]string
}

// Source reads the event log and submits finalizations.
type Source interface {
	Events(ctx context.Context, after uint64, limit int) ([]Event, error)
	FinalizeWithdraw(ctx context.Context, id, cleartext uint64, proof []byte) error
}

// Discloser returns the cleartext and proof for a publicly decryptable handle.
type Discloser interface {
	PublicDecrypt(ctx context.Context, h types.Handle) (uint64, []byte, error)
}

type nodeSource struct {
	node *core.Node
}

// NodeSource drives an in-process node.
func NodeSource(node *core.Node) Source { return nodeSource{node: node} }

func (s nodeSource) Events(ctx context.Context, after uint64, limit int) ([]Event, error) {
	logged, err := s.node.Events(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(logged))
	for _, entry := range logged {
		if entry.Event == nil {
			continue
		}
		out = append(out, Event{Sequence: entry.Sequence, Type: entry.Event.Type, Attributes: entry.Event.Attributes})
	}
	return out, nil
}

func (s nodeSource) FinalizeWithdraw(ctx context.Context, id, cleartext uint64, proof []byte) error {
	_, err := s.node.FinalizeWithdraw(ctx, id, cleartext, proof)
	return err
}

type oracleDiscloser struct {
	oracle *fhe.Oracle
}

// OracleDiscloser wraps a local decryption oracle.
func OracleDiscloser(oracle *fhe.Oracle) Discloser { return oracleDiscloser{oracle: oracle} }

func (d oracleDiscloser) PublicDecrypt(_ context.Context, h types.Handle) (uint64, []byte, error) {
	return d.oracle.PublicDecrypt(h)
}

type clientSource struct {
	client *client.Client
}

// ClientSource drives a remote node over JSON-RPC. The returned value also
// implements Discloser through the node's fhe_publicDecrypt method.
func ClientSource(c *client.Client) interface {
	Source
	Discloser
} {
	return clientSource{client: c}
}

func (s clientSource) Events(ctx context.Context, after uint64, limit int) ([]Event, error) {
	results, err := s.client.Events(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(results))
	for _, r := range results {
		out = append(out, Event{Sequence: r.Sequence, Type: r.Type, Attributes: r.Attributes})
	}
	return out, nil
}

func (s clientSource) FinalizeWithdraw(ctx context.Context, id, cleartext uint64, proof []byte) error {
	_, err := s.client.FinalizeWithdraw(ctx, id, cleartext, proof)
	return err
}

func (s clientSource) PublicDecrypt(ctx context.Context, h types.Handle) (uint64, []byte, error) {
	return s.client.PublicDecrypt(ctx, h)
}
