package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sourcery-ai-experiments/mulsi/internal/direction"
)

// ErrSetNotFound is returned by LoadSet and DeleteSet for unknown set names.
var ErrSetNotFound = errors.New("direction set not found")

// Set is a named group of directions estimated together against one model,
// keyed by layer path.
type Set struct {
	Name       string
	Model      string
	CreatedAt  string
	Directions map[string]direction.Direction
}

// SetInfo summarizes a stored set without loading its vectors.
type SetInfo struct {
	Name       string
	Model      string
	CreatedAt  string
	Directions int
}

// SaveSet persists a direction set atomically.
//
// Idempotent for identical content: direction IDs are content-addressed, so
// a re-run of the same estimation writes identical rows. Re-saving a set
// name with different directions replaces the stored rows, keeping the set
// in step with whatever the caller just estimated.
func (s *Store) SaveSet(ctx context.Context, name, modelName string, dirs map[string]direction.Direction) error {
	if name == "" {
		return fmt.Errorf("save set: empty set name")
	}
	if len(dirs) == 0 {
		return fmt.Errorf("save set %q: no directions", name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save set %q: begin tx: %w", name, err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO direction_sets (name, model_name)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET model_name = excluded.model_name
	`, name, modelName)
	if err != nil {
		return fmt.Errorf("save set %q: %w", name, err)
	}

	for layer, d := range dirs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO directions
			(id, set_name, layer, method, pooling, pair_count, confidence, dim, vector)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(set_name, layer) DO UPDATE SET
				id = excluded.id,
				method = excluded.method,
				pooling = excluded.pooling,
				pair_count = excluded.pair_count,
				confidence = excluded.confidence,
				dim = excluded.dim,
				vector = excluded.vector
		`,
			d.ID,
			name,
			layer,
			string(d.Method),
			string(d.Pooling),
			d.PairCount,
			string(d.Confidence),
			len(d.Vector),
			encodeVector(d.Vector),
		)
		if err != nil {
			return fmt.Errorf("save set %q: layer %q: %w", name, layer, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save set %q: commit: %w", name, err)
	}
	return nil
}

// LoadSet reads a full direction set, vectors included.
func (s *Store) LoadSet(ctx context.Context, name string) (*Set, error) {
	set := &Set{Name: name, Directions: make(map[string]direction.Direction)}

	err := s.db.QueryRowContext(ctx, `
		SELECT model_name, created_at FROM direction_sets WHERE name = ?
	`, name).Scan(&set.Model, &set.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load set %q: %w", name, ErrSetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load set %q: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, layer, method, pooling, pair_count, confidence, dim, vector
		FROM directions
		WHERE set_name = ?
		ORDER BY layer
	`, name)
	if err != nil {
		return nil, fmt.Errorf("load set %q: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var d direction.Direction
		var method, pooling, confidence string
		var dim int
		var blob []byte
		if err := rows.Scan(&d.ID, &d.Layer, &method, &pooling, &d.PairCount, &confidence, &dim, &blob); err != nil {
			return nil, fmt.Errorf("load set %q: scan: %w", name, err)
		}
		vec, err := decodeVector(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("load set %q: layer %q: %w", name, d.Layer, err)
		}
		d.Method = direction.Method(method)
		d.Pooling = direction.Pooling(pooling)
		d.Confidence = direction.Confidence(confidence)
		d.Vector = vec
		set.Directions[d.Layer] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load set %q: %w", name, err)
	}

	return set, nil
}

// ListSets returns summaries of all stored sets, most recent first.
func (s *Store) ListSets(ctx context.Context) ([]SetInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ds.name, ds.model_name, ds.created_at, COUNT(d.layer)
		FROM direction_sets ds
		LEFT JOIN directions d ON d.set_name = ds.name
		GROUP BY ds.name
		ORDER BY ds.created_at DESC, ds.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	defer rows.Close()

	var infos []SetInfo
	for rows.Next() {
		var info SetInfo
		if err := rows.Scan(&info.Name, &info.Model, &info.CreatedAt, &info.Directions); err != nil {
			return nil, fmt.Errorf("list sets: scan: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	return infos, nil
}

// DeleteSet removes a set and, via foreign key cascade, its directions.
func (s *Store) DeleteSet(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM direction_sets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete set %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete set %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("delete set %q: %w", name, ErrSetNotFound)
	}
	return nil
}

// encodeVector packs a float32 vector into little-endian IEEE 754 bytes,
// the same layout canon.VectorHash hashes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a stored vector blob, validating against the
// recorded dimension.
func decodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("vector blob is %d bytes, want %d for dim %d", len(blob), 4*dim, dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
