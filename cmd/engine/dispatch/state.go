package dispatch

import (
	"context"
	"errors"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/cmd/engine/session"
	"github.com/telflow/telflow/cmd/engine/template"
	"github.com/telflow/telflow/common/models"
)

// RegisterState wires the session node handlers against a session store.
func RegisterState(d *Dispatcher, store session.Store) error {
	handlers := map[string]Handler{
		catalog.TypeSessionRead:  sessionReadHandler(store),
		catalog.TypeSessionWrite: sessionWriteHandler(store),
		catalog.TypeSessionEnd:   sessionEndHandler(store),
	}
	for nodeType, h := range handlers {
		if err := d.Register(nodeType, h); err != nil {
			return err
		}
	}
	return nil
}

func requireSession(ec *models.ExecutionContext) *models.NodeError {
	if ec.Session == nil {
		return models.NewNodeError(models.CodeSessionRequired, "node requires an active session", models.ErrorValidation)
	}
	return nil
}

func sessionReadHandler(store session.Store) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		if nerr := requireSession(ec); nerr != nil {
			return nil, nerr
		}
		rec, err := store.Get(ctx, ec.Session.SessionID)
		if err != nil {
			return nil, models.NewNodeError(models.CodeNodeExecutionError, "reading session: "+err.Error(), models.ErrorTransient)
		}
		if rec == nil {
			return nil, models.NewNodeError(models.CodeSessionNotFound, "session ended or expired", models.ErrorValidation)
		}
		ec.Session = rec

		out := passthrough(in)
		keys := cfgSlice(node.Config, "keys")
		if len(keys) == 0 {
			for k, v := range rec.Data {
				out[k] = v
			}
		} else {
			for _, raw := range keys {
				k, ok := raw.(string)
				if !ok {
					continue
				}
				if v, present := rec.Data[k]; present {
					out[k] = v
				}
			}
		}
		return &Outcome{Output: out, Handle: catalog.HandleSuccess}, nil
	}
}

func sessionWriteHandler(store session.Store) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		if nerr := requireSession(ec); nerr != nil {
			return nil, nerr
		}
		scope := template.BuildScope(ec, in.Merged)

		rendered := map[string]any{}
		for k, v := range cfgMap(node.Config, "data") {
			if s, ok := v.(string); ok {
				rendered[k] = template.Render(s, scope)
			} else {
				rendered[k] = v
			}
		}

		replace := !cfgBool(node.Config, "merge")
		rec, err := store.UpdateData(ctx, ec.Session.SessionID, rendered, replace)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return nil, models.NewNodeError(models.CodeSessionNotFound, "session ended or expired", models.ErrorValidation)
			}
			return nil, models.NewNodeError(models.CodeNodeExecutionError, "writing session: "+err.Error(), models.ErrorTransient)
		}
		ec.Session = rec

		out := passthrough(in)
		out["session_data"] = rec.Data
		return &Outcome{Output: out, Handle: catalog.HandleSuccess}, nil
	}
}

func sessionEndHandler(store session.Store) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		if nerr := requireSession(ec); nerr != nil {
			return nil, nerr
		}
		if err := store.End(ctx, ec.Session.SessionID); err != nil {
			return nil, models.NewNodeError(models.CodeNodeExecutionError, "ending session: "+err.Error(), models.ErrorTransient)
		}
		ec.Session.Active = false

		out := passthrough(in)
		out["session_ended"] = true
		if msg := cfgString(node.Config, "message"); msg != "" {
			out["message"] = template.Render(msg, template.BuildScope(ec, in.Merged))
		}
		return &Outcome{Output: out, Handle: catalog.HandleSuccess}, nil
	}
}
