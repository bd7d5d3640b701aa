package neo4j

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rhizomelab/rhizome-backend/internal/logger"
	"github.com/rhizomelab/rhizome-backend/internal/types"
)

// Client mirrors the connection set into neo4j as chunk-to-chunk edges.
// Optional: NewFromEnv returns (nil, nil) when NEO4J_URI is unset, and every
// method tolerates a nil receiver so callers need no gating of their own.
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4j: logger required")
	}

	uri := strings.TrimSpace(os.Getenv("NEO4J_URI"))
	if uri == "" {
		return nil, nil
	}

	user := strings.TrimSpace(os.Getenv("NEO4J_USER"))
	if user == "" {
		user = "neo4j"
	}
	password := strings.TrimSpace(os.Getenv("NEO4J_PASSWORD"))
	database := strings.TrimSpace(os.Getenv("NEO4J_DATABASE"))

	timeoutSec := 10
	if v := strings.TrimSpace(os.Getenv("NEO4J_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	auth := neo4j.BasicAuth(user, password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(cfg *neo4j.Config) {
		cfg.SocketConnectTimeout = time.Duration(timeoutSec) * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	return &Client{
		Driver:   driver,
		Database: database,
		log:      log.With("service", "Neo4jGraphClient"),
	}, nil
}

// MirrorConnections MERGEs one CONNECTS edge per persisted connection row.
// Mirror failures are the caller's to log; they never fail a detection run.
func (c *Client) MirrorConnections(ctx context.Context, conns []*types.Connection) error {
	if c == nil || c.Driver == nil || len(conns) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rels := make([]map[string]any, 0, len(conns))
	for _, conn := range conns {
		if conn == nil {
			continue
		}
		rels = append(rels, map[string]any{
			"id":                 conn.ID.String(),
			"source_chunk_id":    conn.SourceChunkID.String(),
			"target_chunk_id":    conn.TargetChunkID.String(),
			"source_document_id": conn.SourceDocumentID.String(),
			"target_document_id": conn.TargetDocumentID.String(),
			"engine_type":        conn.EngineType,
			"strength":           conn.Strength,
			"synced_at":          now,
		})
	}

	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.Database,
	})
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			UNWIND $rels AS rel
			MERGE (src:Chunk {id: rel.source_chunk_id})
			  ON CREATE SET src.document_id = rel.source_document_id
			MERGE (dst:Chunk {id: rel.target_chunk_id})
			  ON CREATE SET dst.document_id = rel.target_document_id
			MERGE (src)-[e:CONNECTS {engine_type: rel.engine_type}]->(dst)
			SET e.id = rel.id,
			    e.strength = rel.strength,
			    e.synced_at = rel.synced_at
		`
		_, txErr := tx.Run(ctx, query, map[string]any{"rels": rels})
		return nil, txErr
	})
	if err != nil {
		return fmt.Errorf("neo4j: mirror connections: %w", err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	return c.Driver.Close(ctx)
}
