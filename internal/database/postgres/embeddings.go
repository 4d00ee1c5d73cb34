package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/logger"
)

// EmbeddingRepository provides PostgreSQL-backed face sample storage with an optional
// in-memory HNSW index for lookalike checks
type EmbeddingRepository struct {
	pool       *Pool
	dim        int
	maxSamples int

	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string
	hnswMu        sync.RWMutex
}

// NewEmbeddingRepository creates a repository accepting dim-sized vectors and at most
// maxSamples per person (0 = unlimited)
func NewEmbeddingRepository(pool *Pool, dim, maxSamples int) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool, dim: dim, maxSamples: maxSamples}
}

const selectEmbedding = `SELECT id, person_id, seq, embedding, model, dim, created_at FROM face_embeddings`

func scanEmbedding(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredEmbedding, error) {
	var emb database.StoredEmbedding
	var vec pgvector.Vector
	dest := append([]any{&emb.ID, &emb.PersonID, &emb.Seq, &vec, &emb.Model, &emb.Dim, &emb.CreatedAt}, extraDest...)
	if err := scanner.Scan(dest...); err != nil {
		return emb, err
	}
	emb.Embedding = vec.Slice()
	return emb, nil
}

func scanEmbeddings(rows *sql.Rows) ([]database.StoredEmbedding, error) {
	defer rows.Close()
	var out []database.StoredEmbedding
	for rows.Next() {
		emb, err := scanEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out = append(out, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// EmbeddingsFor returns the samples of a person ordered by seq
func (r *EmbeddingRepository) EmbeddingsFor(ctx context.Context, personID string) ([]database.StoredEmbedding, error) {
	rows, err := r.pool.Query(ctx, selectEmbedding+" WHERE person_id = $1 ORDER BY seq", personID)
	if err != nil {
		return nil, classify("postgres.EmbeddingsFor", err)
	}
	out, err := scanEmbeddings(rows)
	if err != nil {
		return nil, classify("postgres.EmbeddingsFor", err)
	}
	return out, nil
}

// AllEmbeddings returns every stored sample ordered by ID
func (r *EmbeddingRepository) AllEmbeddings(ctx context.Context) ([]database.StoredEmbedding, error) {
	rows, err := r.pool.Query(ctx, selectEmbedding+" ORDER BY id")
	if err != nil {
		return nil, classify("postgres.AllEmbeddings", err)
	}
	out, err := scanEmbeddings(rows)
	if err != nil {
		return nil, classify("postgres.AllEmbeddings", err)
	}
	return out, nil
}

// Count returns the total number of stored samples
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_embeddings").Scan(&count); err != nil {
		return 0, classify("postgres.Count", fmt.Errorf("count embeddings: %w", err))
	}
	return count, nil
}

// Stats returns the sample count and the highest sample ID
func (r *EmbeddingRepository) Stats(ctx context.Context) (database.EmbeddingStats, error) {
	var st database.EmbeddingStats
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM face_embeddings").Scan(&st.Count, &st.MaxID)
	if err != nil {
		return st, classify("postgres.Stats", fmt.Errorf("failed to get embedding stats: %w", err))
	}
	return st, nil
}

// lockPerson takes a row lock on the person so concurrent writers for the same person
// serialize on seq assignment and the sample cap.
func lockPerson(ctx context.Context, tx *sql.Tx, op, personID string) error {
	var id string
	err := tx.QueryRowContext(ctx, "SELECT id FROM persons WHERE id = $1 FOR UPDATE", personID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.E(apperr.NotFound, op, "person %s not found", personID)
	}
	if err != nil {
		return classify(op, fmt.Errorf("lock person: %w", err))
	}
	return nil
}

func insertEmbedding(ctx context.Context, tx *sql.Tx, personID string, seq int, embedding []float32, model string) (database.StoredEmbedding, error) {
	emb := database.StoredEmbedding{
		PersonID:  personID,
		Seq:       seq,
		Embedding: embedding,
		Model:     model,
		Dim:       len(embedding),
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO face_embeddings (person_id, seq, embedding, model, dim)
		VALUES ($1, $2, $3::vector, $4, $5)
		RETURNING id, created_at
	`, personID, seq, pgvector.NewVector(embedding), model, len(embedding)).Scan(&emb.ID, &emb.CreatedAt)
	if err != nil {
		return emb, fmt.Errorf("insert embedding %d: %w", seq, err)
	}
	return emb, nil
}

// Store appends one sample to the person's gallery.
func (r *EmbeddingRepository) Store(ctx context.Context, personID string, embedding []float32, model string) (database.StoredEmbedding, error) {
	const op = "postgres.Store"
	if err := database.ValidateEmbedding(op, embedding, r.dim); err != nil {
		return database.StoredEmbedding{}, err
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return database.StoredEmbedding{}, classify(op, err)
	}
	defer tx.Rollback()

	if err := lockPerson(ctx, tx, op, personID); err != nil {
		return database.StoredEmbedding{}, err
	}

	var count, nextSeq int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(MAX(seq) + 1, 0) FROM face_embeddings WHERE person_id = $1", personID,
	).Scan(&count, &nextSeq)
	if err != nil {
		return database.StoredEmbedding{}, classify(op, fmt.Errorf("count samples: %w", err))
	}
	if r.maxSamples > 0 && count >= r.maxSamples {
		return database.StoredEmbedding{}, apperr.E(apperr.Conflict, op, "person %s already has %d samples", personID, r.maxSamples)
	}

	emb, err := insertEmbedding(ctx, tx, personID, nextSeq, embedding, model)
	if err != nil {
		return database.StoredEmbedding{}, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return database.StoredEmbedding{}, classify(op, fmt.Errorf("commit transaction: %w", err))
	}

	r.updateHNSW(nil, []database.StoredEmbedding{emb})
	return emb, nil
}

// Replace swaps the person's whole gallery in one transaction.
func (r *EmbeddingRepository) Replace(ctx context.Context, personID string, embeddings [][]float32, model string) ([]database.StoredEmbedding, error) {
	const op = "postgres.Replace"
	for _, e := range embeddings {
		if err := database.ValidateEmbedding(op, e, r.dim); err != nil {
			return nil, err
		}
	}
	if r.maxSamples > 0 && len(embeddings) > r.maxSamples {
		return nil, apperr.E(apperr.Conflict, op, "at most %d samples per person", r.maxSamples)
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(op, err)
	}
	defer tx.Rollback()

	if err := lockPerson(ctx, tx, op, personID); err != nil {
		return nil, err
	}
	oldIDs, err := scanEmbeddingIDs(ctx, tx, personID)
	if err != nil {
		return nil, classify(op, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM face_embeddings WHERE person_id = $1", personID); err != nil {
		return nil, classify(op, fmt.Errorf("delete existing samples: %w", err))
	}

	inserted := make([]database.StoredEmbedding, 0, len(embeddings))
	for seq, e := range embeddings {
		emb, err := insertEmbedding(ctx, tx, personID, seq, e, model)
		if err != nil {
			return nil, classify(op, err)
		}
		inserted = append(inserted, emb)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(op, fmt.Errorf("commit transaction: %w", err))
	}

	r.updateHNSW(oldIDs, inserted)
	return inserted, nil
}

// Delete removes all samples of a person and returns the deleted sample IDs.
func (r *EmbeddingRepository) Delete(ctx context.Context, personID string) ([]int64, error) {
	const op = "postgres.Delete"
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(op, err)
	}
	defer tx.Rollback()

	ids, err := scanEmbeddingIDs(ctx, tx, personID)
	if err != nil {
		return nil, classify(op, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM face_embeddings WHERE person_id = $1", personID); err != nil {
		return nil, classify(op, fmt.Errorf("delete samples: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(op, fmt.Errorf("commit transaction: %w", err))
	}

	r.updateHNSW(ids, nil)
	return ids, nil
}

// scanEmbeddingIDs reads sample IDs of a person and properly closes the rows.
func scanEmbeddingIDs(ctx context.Context, tx *sql.Tx, personID string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM face_embeddings WHERE person_id = $1", personID)
	if err != nil {
		return nil, fmt.Errorf("query sample IDs: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sample ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample IDs: %w", err)
	}
	return ids, nil
}

// NearestOther finds the closest sample owned by someone other than excludePersonID.
func (r *EmbeddingRepository) NearestOther(ctx context.Context, embedding []float32, excludePersonID string) (database.StoredEmbedding, float64, bool, error) {
	r.hnswMu.RLock()
	idx := r.hnswIndex
	enabled := r.hnswEnabled && idx != nil
	r.hnswMu.RUnlock()

	if enabled {
		face, dist, ok := idx.NearestOther(embedding, excludePersonID, r.maxSamples)
		return face, dist, ok, nil
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, person_id, seq, embedding, model, dim, created_at, embedding <-> $1 AS distance
		FROM face_embeddings
		WHERE person_id <> $2
		ORDER BY embedding <-> $1
		LIMIT 1
	`, pgvector.NewVector(embedding), excludePersonID)

	var dist float64
	emb, err := scanEmbedding(row, &dist)
	if errors.Is(err, sql.ErrNoRows) {
		return database.StoredEmbedding{}, 0, false, nil
	}
	if err != nil {
		return database.StoredEmbedding{}, 0, false, classify("postgres.NearestOther", err)
	}
	return emb, dist, true, nil
}

// updateHNSW removes old sample IDs and adds new samples to the HNSW index.
func (r *EmbeddingRepository) updateHNSW(oldIDs []int64, added []database.StoredEmbedding) {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	if !r.hnswEnabled || r.hnswIndex == nil {
		return
	}
	r.hnswIndex.Delete(oldIDs...)
	for _, emb := range added {
		r.hnswIndex.Add(emb)
	}
}

// tryLoadIndex attempts to load the HNSW index from disk. The cached index is used only
// when its metadata matches the current table.
func tryLoadIndex(indexPath string, st database.EmbeddingStats) *database.HNSWIndex {
	log := logger.GetInstance()
	metadata, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		log.Infof("Face index: metadata file error: %v (will rebuild)", err)
		return nil
	}
	if metadata.FaceCount != st.Count || metadata.MaxFaceID != st.MaxID {
		log.Infof("Face index: stale (db: count=%d max_id=%d, cached: count=%d max_id=%d) (will rebuild)",
			st.Count, st.MaxID, metadata.FaceCount, metadata.MaxFaceID)
		return nil
	}
	idx := database.NewHNSWIndex()
	if err := idx.LoadWithFaceMetadata(indexPath); err != nil {
		log.Warnf("Face index: failed to load: %v (will rebuild)", err)
		return nil
	}
	if idx.IsEmpty() {
		return nil
	}
	log.Infof("Face index: loaded from disk (%d samples)", idx.Count())
	return idx
}

// EnableHNSW loads or builds the in-memory HNSW index used by NearestOther.
// If indexPath is provided, it will try to load from disk first and save after building.
func (r *EmbeddingRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	st, err := r.Stats(ctx)
	if err != nil {
		return err
	}

	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswIndexPath = indexPath

	if indexPath != "" {
		if idx := tryLoadIndex(indexPath, st); idx != nil {
			r.hnswIndex = idx
			r.hnswEnabled = true
			return nil
		}
	}

	faces, err := r.AllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load samples: %w", err)
	}
	r.hnswIndex = database.NewHNSWIndex()
	r.hnswIndex.Build(faces)

	if indexPath != "" && len(faces) > 0 {
		metadata := database.HNSWIndexMetadata{FaceCount: st.Count, MaxFaceID: st.MaxID}
		if err := r.hnswIndex.SaveWithFaceMetadata(indexPath, metadata); err != nil {
			logger.GetInstance().Warnf("failed to save HNSW index to disk: %v", err)
		}
	}

	r.hnswEnabled = true
	return nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *EmbeddingRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *EmbeddingRepository) SaveHNSWIndex(ctx context.Context) error {
	st, err := r.Stats(ctx)
	if err != nil {
		return err
	}

	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}

	metadata := database.HNSWIndexMetadata{FaceCount: st.Count, MaxFaceID: st.MaxID}
	if err := r.hnswIndex.SaveWithFaceMetadata(r.hnswIndexPath, metadata); err != nil {
		return fmt.Errorf("saving HNSW face index: %w", err)
	}
	return nil
}

// HNSWCount returns the number of samples in the HNSW index, 0 when disabled.
func (r *EmbeddingRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}
