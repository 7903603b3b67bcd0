package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"cipherlend/rpc"
)

const exportPageSize = 500

type eventRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account    string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	RequestID  string `parquet:"name=request_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func runExport(c *cli, args []string) error {
	fs := c.flags("export")
	out := fs.String("out", "", "parquet output path")
	after := fs.Uint64("after", 0, "export events with a greater sequence")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("out", *out); err != nil {
		return err
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	var all []rpc.EventResult
	cursor := *after
	for {
		ctx, cancel := c.context()
		page, err := cl.Events(ctx, cursor, exportPageSize)
		cancel()
		if err != nil {
			return err
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
		cursor = page[len(page)-1].Sequence
	}
	if err := writeEventsParquet(*out, all); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "wrote %d events to %s\n", len(all), *out)
	return nil
}

func writeEventsParquet(path string, evts []rpc.EventResult) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(eventRow), 1)
	if err != nil {
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, evt := range evts {
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return errors.Join(fmt.Errorf("export: encode attributes: %w", err), pw.WriteStop())
		}
		row := &eventRow{
			Sequence:   int64(evt.Sequence),
			Type:       evt.Type,
			Account:    evt.Attributes["account"],
			RequestID:  evt.Attributes["requestId"],
			Attributes: string(attrs),
		}
		if err := pw.Write(row); err != nil {
			return errors.Join(fmt.Errorf("export: write row: %w", err), pw.WriteStop())
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("export: finalize parquet: %w", err)
	}
	return nil
}
