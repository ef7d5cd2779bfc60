// Package persistence contains the default [domain.Persistence]
// implementation.
//
// Imports accept either a JSON array of objects or JSON lines. Object links
// are given as the key of the target row or as a nested object, which creates
// a new row in the target table. Dates are RFC 3339 strings or milliseconds
// since the epoch and binary values are base64 strings. Exports are written as
// JSON lines, one object per row, with the row key under [KeyField].
package persistence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dolmen-go/contextio"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// KeyField holds the row key in exported records. It is ignored on import.
const KeyField = "_key"

// Persistence implements [domain.Persistence].
type Persistence struct {
	corruptAlertThreshold float64
	logger                *slog.Logger
}

// NewPersistence returns a new implementation of [domain.Persistence].
func NewPersistence(options ...Option) domain.Persistence {
	p := &Persistence{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Import implements [domain.Persistence].
func (p *Persistence) Import(ctx context.Context, tx domain.WriteTx, table string, r io.Reader) (domain.RowSet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	schema, ok := tx.TableSchema(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}

	records, err := p.readRecords(ctx, r)
	if err != nil {
		return nil, err
	}

	keys := make(domain.RowSet, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, err := p.createRow(tx, schema, rec)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	p.logger.Debug("rows imported",
		slog.String("table", table),
		slog.Int("count", len(keys)),
	)
	return keys, nil
}

func (p *Persistence) readRecords(ctx context.Context, r io.Reader) ([]map[string]any, error) {
	br := bufio.NewReader(contextio.NewReader(ctx, r))

	first, err := p.peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if first == '[' {
		dec := json.NewDecoder(br)
		dec.UseNumber()
		var records []map[string]any
		if err := dec.Decode(&records); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
		}
		return records, nil
	}

	var (
		records []map[string]any
		corrupt int
		length  int
	)
	lineStream := bufio.NewScanner(br)
	for lineStream.Scan() {
		line := bytes.TrimSpace(lineStream.Bytes())
		if len(line) == 0 {
			continue
		}
		length++

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil || m == nil {
			corrupt++
			continue
		}
		records = append(records, m)
	}
	if err := lineStream.Err(); err != nil {
		return nil, err
	}

	if corrupt > 0 {
		rate := float64(corrupt) / float64(length)
		if rate > p.corruptAlertThreshold {
			return nil, domain.ErrCorruptImport{
				CorruptionRate:        rate,
				CorruptItems:          corrupt,
				DataLength:            length,
				CorruptAlertThreshold: p.corruptAlertThreshold,
			}
		}
		p.logger.Warn("skipped corrupt import lines",
			slog.Int("corrupt", corrupt),
			slog.Int("total", length),
		)
	}
	return records, nil
}

func (p *Persistence) peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

func (p *Persistence) createRow(tx domain.WriteTx, schema domain.TableSchema, rec map[string]any) (domain.RowKey, error) {
	key, err := tx.CreateRow(schema.Name)
	if err != nil {
		return 0, err
	}

	// columns are visited in schema order so nested rows get stable keys
	for _, col := range schema.Columns {
		raw, ok := rec[col.Name]
		if !ok || col.Type == domain.FieldLinkingObjects {
			continue
		}
		v, err := p.convert(tx, col, raw)
		if err != nil {
			return 0, fmt.Errorf("%s.%s: %w", schema.Name, col.Name, err)
		}
		if err := tx.Set(schema.Name, key, col.ID, v); err != nil {
			return 0, err
		}
	}
	return key, nil
}

func (p *Persistence) convert(tx domain.WriteTx, col domain.Column, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch col.Type {
	case domain.FieldDate:
		switch t := raw.(type) {
		case string:
			return time.Parse(time.RFC3339Nano, t)
		case json.Number:
			ms, err := t.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
			}
			return time.UnixMilli(ms), nil
		}
	case domain.FieldBinary:
		if s, ok := raw.(string); ok {
			return base64.StdEncoding.DecodeString(s)
		}
	case domain.FieldObject:
		return p.link(tx, col, raw)
	case domain.FieldList:
		items, ok := raw.([]any)
		if !ok {
			break
		}
		res := make(domain.RowSet, 0, len(items))
		for _, item := range items {
			k, err := p.link(tx, col, item)
			if err != nil {
				return nil, err
			}
			res = append(res, k)
		}
		return res, nil
	}
	return raw, nil
}

func (p *Persistence) link(tx domain.WriteTx, col domain.Column, raw any) (domain.RowKey, error) {
	switch t := raw.(type) {
	case json.Number:
		k, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
		}
		return domain.RowKey(k), nil
	case map[string]any:
		target, ok := tx.TableSchema(col.Target)
		if !ok {
			return 0, fmt.Errorf("%w: %s", domain.ErrTableNotFound, col.Target)
		}
		return p.createRow(tx, target, t)
	default:
		return 0, fmt.Errorf("%w: cannot link %T", domain.ErrInvalidArgument, raw)
	}
}

// Export implements [domain.Persistence].
func (p *Persistence) Export(ctx context.Context, r domain.Reader, table string, w io.Writer) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	schema, ok := r.TableSchema(table)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}
	rows, err := r.Rows(table)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(contextio.NewWriter(ctx, w))
	for _, key := range rows {
		rec := make(map[string]any, len(schema.Columns)+1)
		rec[KeyField] = key
		for _, col := range schema.Columns {
			if col.Type == domain.FieldLinkingObjects {
				continue
			}
			v, err := r.Value(table, key, col.ID)
			if err != nil {
				return err
			}
			rec[col.Name] = v
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
