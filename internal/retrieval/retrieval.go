// Package retrieval implements tools.Retriever against Postgres full-text
// search. The embedding pipeline and vector store are explicitly out of
// scope for this port — the agent loop and search_documents depend only on
// the narrow tools.Retriever interface — so this substitutes Postgres's own
// tsvector/GIN ranking for a vector index, grounded in the same pgx pool the
// rest of the store uses rather than reaching for an external service.
package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simage-ai/convoengine/internal/tools"
)

// PostgresRetriever answers tools.Retriever.Search with a plainto_tsquery
// match against document_chunks, ranked by ts_rank.
type PostgresRetriever struct {
	DB *pgxpool.Pool
}

func (r *PostgresRetriever) Search(ctx context.Context, projectID string, namespaces []string, query string, topK int) ([]tools.SearchHit, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT c.content, c.source, c.resource_id, r.type, c.file_path, c.line_start, c.line_end,
		       ts_rank(c.search_vector, plainto_tsquery('english', $2)) AS rank
		FROM document_chunks c
		JOIN resources r ON r.id = c.resource_id
		WHERE c.project_id = $1
		  AND ($4::text[] IS NULL OR c.namespace = ANY($4))
		  AND c.search_vector @@ plainto_tsquery('english', $2)
		ORDER BY rank DESC
		LIMIT $3`,
		projectID, query, topK, namespaceFilter(namespaces))
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	defer rows.Close()

	var hits []tools.SearchHit
	for rows.Next() {
		var h tools.SearchHit
		if err := rows.Scan(&h.Content, &h.Source, &h.ResourceID, &h.ResourceType, &h.FilePath, &h.LineStart, &h.LineEnd, &h.Score); err != nil {
			return nil, fmt.Errorf("retrieval: scan: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// namespaceFilter returns nil for an empty slice so the SQL's IS NULL branch
// matches every namespace, mirroring "search everything" when the caller
// did not scope the request.
func namespaceFilter(namespaces []string) []string {
	if len(namespaces) == 0 {
		return nil
	}
	return namespaces
}
