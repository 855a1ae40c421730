package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sweetpotato0/partirag/retrieval"
	"github.com/sweetpotato0/partirag/vector"
)

// Searcher implements retrieval.Searcher using PostgreSQL with the pgvector
// extension. Each pool maps to its own table so chunk and quote corpora stay
// independently indexed.
type Searcher struct {
	db        *sql.DB
	embedder  vector.Embedder
	dimension int
	pools     []retrieval.Pool
	tables    map[retrieval.Pool]string
}

// Config holds pgvector connection configuration
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	Dimension   int              // Embedding dimension (default: 1536 for OpenAI)
	TablePrefix string           // Table name prefix (default: documents)
	Pools       []retrieval.Pool // Pools to serve (default: chunk and quote)
}

// DefaultConfig returns default pgvector configuration
func DefaultConfig() *Config {
	return &Config{
		Host:        "127.0.0.1",
		Port:        5432,
		User:        "postgres",
		Password:    "123456",
		DBName:      "partirag",
		SSLMode:     "disable",
		Dimension:   1536,
		TablePrefix: "documents",
		Pools:       []retrieval.Pool{retrieval.PoolChunk, retrieval.PoolQuote},
	}
}

// New creates a pgvector-backed searcher. The embedder converts queries and
// documents to vectors; its dimension must match config.Dimension.
func New(config *Config, embedder vector.Embedder) (*Searcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if len(config.Pools) == 0 {
		config.Pools = []retrieval.Pool{retrieval.PoolChunk, retrieval.PoolQuote}
	}
	if config.TablePrefix == "" {
		config.TablePrefix = "documents"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	tables := make(map[retrieval.Pool]string, len(config.Pools))
	for _, pool := range config.Pools {
		tables[pool] = fmt.Sprintf("%s_%s", config.TablePrefix, pool)
	}

	s := &Searcher{
		db:        db,
		embedder:  embedder,
		dimension: config.Dimension,
		pools:     config.Pools,
		tables:    tables,
	}

	if err := s.setup(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to setup pgvector: %w", err)
	}

	return s, nil
}

// setup enables the pgvector extension and creates one table per pool
func (s *Searcher) setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	for _, table := range s.tables {
		createTableSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, table, s.dimension)

		if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	return nil
}

// Pools reports the pools this searcher serves.
func (s *Searcher) Pools() []retrieval.Pool {
	out := make([]retrieval.Pool, len(s.pools))
	copy(out, s.pools)
	return out
}

// Search embeds the query and returns the nearest documents from the pool's
// table, closest first.
func (s *Searcher) Search(ctx context.Context, query string, pool retrieval.Pool, limit int) ([]retrieval.Document, error) {
	table, ok := s.tables[pool]
	if !ok {
		return nil, fmt.Errorf("unknown pool %q", pool)
	}
	if limit <= 0 {
		limit = 10
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(queryVec) != s.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: expected %d, got %d", s.dimension, len(queryVec))
	}

	searchSQL := fmt.Sprintf(`
	SELECT content
	FROM %s
	ORDER BY embedding <-> $1::vector
	LIMIT $2
	`, table)

	rows, err := s.db.QueryContext(ctx, searchSQL, vectorToString(queryVec), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	docs := make([]retrieval.Document, 0, limit)
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, retrieval.Document{
			Content: content,
			Pool:    pool,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

// Add embeds and stores a document in the pool's table. An existing document
// with the same id is replaced.
func (s *Searcher) Add(ctx context.Context, pool retrieval.Pool, id, content string) error {
	table, ok := s.tables[pool]
	if !ok {
		return fmt.Errorf("unknown pool %q", pool)
	}
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}
	if len(vec) != s.dimension {
		return fmt.Errorf("document vector dimension mismatch: expected %d, got %d", s.dimension, len(vec))
	}

	insertSQL := fmt.Sprintf(`
	INSERT INTO %s (id, content, embedding)
	VALUES ($1, $2, $3::vector)
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, table)

	if _, err := s.db.ExecContext(ctx, insertSQL, id, content, vectorToString(vec)); err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

// Count returns the number of documents in a pool
func (s *Searcher) Count(ctx context.Context, pool retrieval.Pool) (int, error) {
	table, ok := s.tables[pool]
	if !ok {
		return 0, fmt.Errorf("unknown pool %q", pool)
	}
	var count int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *Searcher) Close() error {
	return s.db.Close()
}

func vectorToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
