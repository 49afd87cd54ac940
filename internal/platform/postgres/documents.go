package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pbsnet/gateway/internal/platform"
)

func decodeData(id string, raw []byte) (*platform.Document, error) {
	d := &platform.Document{ID: id}
	if err := json.Unmarshal(raw, &d.Data); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	if d.Data == nil {
		d.Data = map[string]any{}
	}
	return d, nil
}

// Get implements platform.Documents.
func (s *Store) Get(ctx context.Context, collection, id string) (*platform.Document, error) {
	var raw []byte
	q := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	if err := s.db.QueryRow(ctx, q, collection, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, platform.ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decodeData(id, raw)
}

// Create implements platform.Documents.
func (s *Store) Create(ctx context.Context, collection, id string, data map[string]any) (*platform.Document, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	q := `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb) RETURNING data`
	var out []byte
	if err := s.db.QueryRow(ctx, q, collection, id, string(raw)).Scan(&out); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("document %s/%s: %w", collection, id, platform.ErrConflict)
		}
		return nil, fmt.Errorf("create document: %w", err)
	}
	return decodeData(id, out)
}

// Update implements platform.Documents. Top-level keys in data replace the
// stored values; other keys are untouched.
func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any) (*platform.Document, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	q := `
		UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2
		RETURNING data`
	var out []byte
	if err := s.db.QueryRow(ctx, q, collection, id, string(raw)).Scan(&out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, platform.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("document %s/%s: %w", collection, id, platform.ErrConflict)
		}
		return nil, fmt.Errorf("update document: %w", err)
	}
	return decodeData(id, out)
}

// List implements platform.Documents.
func (s *Store) List(ctx context.Context, collection string, queries ...platform.Query) ([]*platform.Document, error) {
	sql, args, err := buildList(collection, queries)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*platform.Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d, err := decodeData(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// buildList translates queries into a parameterised SELECT. Attribute names
// are always bound as parameters, never interpolated.
func buildList(collection string, queries []platform.Query) (string, []any, error) {
	var b strings.Builder
	b.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	args := []any{collection}

	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, q := range queries {
		switch q.Method {
		case platform.MethodEqual:
			if len(q.Values) == 0 {
				return "", nil, fmt.Errorf("equal query on %q has no values", q.Attribute)
			}
			attr := bind(q.Attribute)
			alts := make([]string, 0, len(q.Values))
			for _, v := range q.Values {
				alts = append(alts, "data->>"+attr+" = "+bind(fmt.Sprint(v)))
			}
			b.WriteString(" AND (" + strings.Join(alts, " OR ") + ")")
		case platform.MethodSearch:
			if len(q.Values) == 0 {
				return "", nil, fmt.Errorf("search query on %q has no values", q.Attribute)
			}
			attr := bind(q.Attribute)
			pattern := "%" + escapeLike(fmt.Sprint(q.Values[0])) + "%"
			b.WriteString(" AND data->>" + attr + " ILIKE " + bind(pattern))
		case platform.MethodLimit:
		default:
			return "", nil, fmt.Errorf("unsupported query method %q", q.Method)
		}
	}

	b.WriteString(" ORDER BY created_at, id")
	if n := platform.LimitOf(queries); n > 0 {
		b.WriteString(" LIMIT " + bind(n))
	}
	return b.String(), args, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
