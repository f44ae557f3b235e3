package policy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Query is evaluated against every chat request. It must yield a boolean.
const Query = "data.comanager.chat.allow"

// Input is the document a policy sees as input
type Input struct {
	UserID  model.UserID `json:"user_id"`
	Persona string       `json:"persona"`
}

// Authorizer decides whether a user may talk to a persona. A nil
// *Authorizer allows everything.
type Authorizer struct {
	query *rego.PreparedEvalQuery
}

type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(pctx print.Context, message string) error {
	attrs := []any{"message", message}
	if pctx.Location != nil {
		attrs = append(attrs, "location", pctx.Location.String())
	}
	logging.From(h.ctx).Debug("rego print", attrs...)
	return nil
}

// Load reads all .rego files from dir. It returns nil when the directory
// has no policy.
func Load(ctx context.Context, dir string) (*Authorizer, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return nil, nil
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules[file] = string(data)
	}

	return New(ctx, modules)
}

// New prepares the chat policy from rego modules keyed by file name
func New(ctx context.Context, modules map[string]string) (*Authorizer, error) {
	options := []func(*rego.Rego){
		rego.Query(Query),
		rego.EnablePrintStatements(true),
	}
	for name, src := range modules {
		options = append(options, rego.Module(name, src))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy", goerr.V("query", Query))
	}

	return &Authorizer{query: &prepared}, nil
}

// Allow evaluates the policy. An undefined result denies.
func (a *Authorizer) Allow(ctx context.Context, input Input) (bool, error) {
	if a == nil {
		return true, nil
	}

	rs, err := a.query.Eval(ctx,
		rego.EvalInput(map[string]any{
			"user_id": string(input.UserID),
			"persona": input.Persona,
		}),
		rego.EvalPrintHook(&printHook{ctx: ctx}),
	)
	if err != nil {
		return false, goerr.Wrap(err, "failed to evaluate policy",
			goerr.V("user_id", input.UserID),
			goerr.V("persona", input.Persona))
	}

	return rs.Allowed(), nil
}
