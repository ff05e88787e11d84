// Package resources assembles everything one Agent Loop invocation needs
// out of the relational store: the flat resource projection, the
// transcript, subthread ancestry context, and the per-invocation
// tools.Context. It is the seam between internal/store's row shapes and
// internal/agentloop's/internal/tools' domain shapes.
package resources

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simage-ai/convoengine/internal/agentloop"
	"github.com/simage-ai/convoengine/internal/model"
	"github.com/simage-ai/convoengine/internal/store"
	"github.com/simage-ai/convoengine/internal/tools"
)

// Builder wires a store plus the capability-specific collaborators into
// the Input/Context pair one job execution needs.
type Builder struct {
	Store     *store.Store
	DB        *pgxpool.Pool
	Retriever tools.Retriever
	Vision    tools.VisionCaller
	WebSearch tools.WebSearcher
	TavilyKey string
}

// Build loads the thread, its ancestry, its recent turns, and the
// project's resources, then assembles the agentloop.Input and
// tools.Context for one job.
func (b *Builder) Build(ctx context.Context, j *store.Job) (agentloop.Input, error) {
	thread, err := b.Store.GetThread(ctx, j.ThreadID)
	if err != nil {
		return agentloop.Input{}, fmt.Errorf("resources: load thread: %w", err)
	}

	project, err := b.Store.GetProject(ctx, j.ProjectID)
	if err != nil {
		return agentloop.Input{}, fmt.Errorf("resources: load project: %w", err)
	}

	ancestorRows, err := b.Store.AncestorChain(ctx, j.ThreadID, 3)
	if err != nil {
		return agentloop.Input{}, fmt.Errorf("resources: load ancestry: %w", err)
	}
	var ancestors []agentloop.Ancestor
	for _, a := range ancestorRows {
		ancestors = append(ancestors, agentloop.Ancestor{Title: a.Title, ContextText: a.ContextText})
	}

	var parentTurns []agentloop.ParentTurn
	if thread.ParentThreadID != nil {
		turns, err := b.Store.RecentTurns(ctx, *thread.ParentThreadID, 4)
		if err == nil {
			for _, t := range turns {
				parentTurns = append(parentTurns, agentloop.ParentTurn{Role: string(t.Role), Content: t.Content})
			}
		}
	}
	subthreadContext := agentloop.BuildSubthreadContext(thread.ContextText, ancestors, parentTurns)
	callerInstructions := project.SystemInstructions
	if subthreadContext != "" {
		if callerInstructions != "" {
			callerInstructions += "\n\n"
		}
		callerInstructions += subthreadContext
	}

	ownTurns, err := b.Store.RecentTurns(ctx, j.ThreadID, 40)
	if err != nil {
		return agentloop.Input{}, fmt.Errorf("resources: load turns: %w", err)
	}
	transcript := make([]model.TranscriptEntry, 0, len(ownTurns))
	for _, t := range ownTurns {
		role := model.ConversationRoleUser
		if t.Role == store.TurnRoleAssistant {
			role = model.ConversationRoleAssistant
		}
		transcript = append(transcript, model.TranscriptEntry{Role: role, Parts: []model.Part{model.TextPart{Text: t.Content}}})
	}

	rows, err := b.Store.ResourcesForProject(ctx, j.ProjectID)
	if err != nil {
		return agentloop.Input{}, fmt.Errorf("resources: load resources: %w", err)
	}
	views := make([]tools.ResourceView, 0, len(rows))
	hasDocs, hasData, hasImages := false, false, false
	for _, r := range rows {
		v := tools.ResourceView{
			ID: r.ID, Name: r.Name, Type: r.Type, Status: r.Status, Summary: r.Summary,
			FilePath: r.FilePath, RowCount: r.RowCount, Width: r.Width, Height: r.Height,
		}
		for _, c := range r.Columns {
			v.Columns = append(v.Columns, tools.ColumnInfo{Name: c.Name, Type: c.Type})
		}
		views = append(views, v)
		switch r.Type {
		case "document", "web_page", "repository":
			hasDocs = true
		case "data_file":
			hasData = true
		case "image":
			hasImages = true
		}
	}

	toolCtx := &tools.Context{
		Context:      ctx,
		ProjectID:    j.ProjectID,
		ThreadID:     j.ThreadID,
		DB:           b.DB,
		Retriever:    b.Retriever,
		Vision:       b.Vision,
		WebSearch:    b.WebSearch,
		TavilyAPIKey: b.TavilyKey,
		Resources: func() []tools.ResourceView {
			fresh, err := b.Store.ResourcesForProject(ctx, j.ProjectID)
			if err != nil {
				return views
			}
			out := make([]tools.ResourceView, 0, len(fresh))
			for _, r := range fresh {
				v := tools.ResourceView{ID: r.ID, Name: r.Name, Type: r.Type, Status: r.Status, Summary: r.Summary,
					FilePath: r.FilePath, RowCount: r.RowCount, Width: r.Width, Height: r.Height}
				for _, c := range r.Columns {
					v.Columns = append(v.Columns, tools.ColumnInfo{Name: c.Name, Type: c.Type})
				}
				out = append(out, v)
			}
			return out
		},
		SaveFinding: func(ctx context.Context, content, note string) (string, error) {
			return b.Store.CreateFinding(ctx, j.ProjectID, j.ThreadID, content, note)
		},
	}

	in := agentloop.Input{
		Question:           j.Question,
		Transcript:          transcript,
		Resources:           views,
		SystemInstructions:  callerInstructions,
		ContextOnly:         j.ContextOnly,
		HasDocuments:        hasDocs,
		HasDataFiles:        hasData,
		HasImages:           hasImages,
		ToolContext:         toolCtx,
	}
	return in, nil
}
