package audit

import (
	"time"

	"github.com/codeready-toolchain/mcpcore/pkg/invoker"
	"github.com/google/uuid"
)

// FinalizeHook builds the invoker's default "audit" finalize stage
// handler for flowName, writing one Record to store per invocation.
// A nil store makes the hook a no-op, so wiring audit persistence is
// opt-in at the composition root rather than required by every flow.
func FinalizeHook(store Store, flowName string) invoker.Hook {
	return invoker.Hook{
		Kind:  invoker.HookStage,
		Stage: "audit",
		Handler: func(fc *invoker.Context) error {
			if store == nil {
				return nil
			}

			outcome := OutcomeOK
			var stageErrors []string
			if fc.Err != nil {
				outcome = OutcomeError
				if fc.Ctx.Err() != nil {
					outcome = OutcomeCancelled
				}
				stageErrors = []string{fc.Err.Error()}
			}

			authzID := ""
			if fc.Authorization != nil {
				authzID = fc.Authorization.ID()
			}

			started := fc.StartedAt
			if started.IsZero() {
				started = time.Now()
			}

			return store.Append(fc.Ctx, &Record{
				ID:              uuid.NewString(),
				FlowName:        flowName,
				SessionID:       fc.SessionID,
				AuthorizationID: authzID,
				StageErrors:     stageErrors,
				StartedAt:       started,
				FinishedAt:      time.Now(),
				Outcome:         outcome,
			})
		},
	}
}
