// Package adkexec runs ADK agents against a throwaway in-memory session.
package adkexec

import (
	"context"
	"fmt"

	"google.golang.org/adk/agent"
	adkrunner "google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

const (
	appName = "fraudcrew"
	userID  = "fraudcrew-user"
)

// RunInput is one agent invocation.
type RunInput struct {
	Agent agent.Agent
	// Content is the user message the invocation starts from. May be nil.
	Content *genai.Content
	// OnEvent sees every non-nil event in emission order. Returning an error
	// stops the run and is returned from Run.
	OnEvent func(*session.Event) error
}

// Summary describes a finished invocation.
type Summary struct {
	Events   int
	LastText string
}

// Run drives input.Agent to completion and summarizes the emitted events.
func Run(ctx context.Context, input RunInput) (Summary, error) {
	if input.Agent == nil {
		return Summary{}, fmt.Errorf("agent is required")
	}

	sessions := session.InMemoryService()
	r, err := adkrunner.New(adkrunner.Config{
		AppName:        appName,
		Agent:          input.Agent,
		SessionService: sessions,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("create ADK runner: %w", err)
	}
	created, err := sessions.Create(ctx, &session.CreateRequest{AppName: appName, UserID: userID})
	if err != nil {
		return Summary{}, fmt.Errorf("create ADK session: %w", err)
	}

	var sum Summary
	for ev, runErr := range r.Run(ctx, userID, created.Session.ID(), input.Content, agent.RunConfig{}) {
		if runErr != nil {
			return sum, runErr
		}
		if ev == nil {
			continue
		}
		sum.Events++
		if text := EventText(ev); text != "" {
			sum.LastText = text
		}
		if input.OnEvent != nil {
			if err := input.OnEvent(ev); err != nil {
				return sum, err
			}
		}
	}
	return sum, nil
}

// EventText returns the first text part of ev, or "".
func EventText(ev *session.Event) string {
	if ev == nil || ev.Content == nil {
		return ""
	}
	for _, part := range ev.Content.Parts {
		if part != nil && part.Text != "" {
			return part.Text
		}
	}
	return ""
}
