package cli

import (
	"context"

	"github.com/m-mizutani/comanager/pkg/service/mcp"
	"github.com/m-mizutani/comanager/pkg/tool"
	"github.com/m-mizutani/comanager/pkg/tool/store"
	"github.com/m-mizutani/comanager/pkg/usecase/agent"
	"github.com/m-mizutani/comanager/pkg/usecase/memory"
	"github.com/m-mizutani/comanager/pkg/utils/async"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/comanager/pkg/utils/metrics"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// runtime holds the long-lived clients shared by all turns
type runtime struct {
	controller *agent.Controller
	marketing  *agent.Persona
	technical  *agent.Persona
	memory     *memory.Service
	storeTools *tool.Registry

	closers []func()
}

// newStoreTools returns the tools of the marketing agent. Their flags are
// registered on commands before the tools are initialized.
func newStoreTools() []tool.Tool {
	return []tool.Tool{store.New()}
}

func toolFlags(tools []tool.Tool) []cli.Flag {
	return tool.New(tools).Flags()
}

// build wires every client from cfg. The returned runtime must be closed.
func (cfg *config) build(ctx context.Context, storeTools []tool.Tool, recorder *metrics.Recorder) (*runtime, error) {
	logging.From(ctx).Debug("building runtime", cfg.logAttrs()...)
	rt := &runtime{}

	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, err
	}

	repo, closeRepo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeRepo)
	rt.memory = memory.New(llm, repo)

	storefront, err := cfg.newStorefront(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.storeTools, err = tool.Setup(ctx, &tool.Client{Storefront: storefront}, storeTools,
		tool.WithTimeout(cfg.toolTimeout))
	if err != nil {
		rt.Close()
		return nil, goerr.Wrap(err, "failed to set up store tools")
	}

	reader, err := cfg.newProjectReader(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var techOpts []agent.PersonaOption
	provider, err := mcp.LoadAndConnect(ctx, cfg.mcpConfig)
	if err != nil {
		rt.Close()
		return nil, goerr.Wrap(err, "failed to connect MCP servers")
	}
	if provider != nil {
		rt.closers = append(rt.closers, func() {
			if err := provider.Close(); err != nil {
				logging.From(ctx).Warn("failed to close MCP client", "error", err)
			}
		})
		mcpTools, err := tool.Setup(ctx, &tool.Client{}, []tool.Tool{provider}, tool.WithTimeout(cfg.toolTimeout))
		if err != nil {
			rt.Close()
			return nil, goerr.Wrap(err, "failed to set up MCP tools")
		}
		techOpts = append(techOpts, agent.WithTools(mcpTools))
	}

	rt.marketing = agent.Marketing(agent.WithTools(rt.storeTools), agent.WithModel(cfg.marketingModel))
	rt.technical = agent.Technical(append(techOpts, agent.WithModel(cfg.technicalModel))...)

	dispatcher := async.New()
	rt.closers = append(rt.closers, dispatcher.Close)

	assemblerOpts := []agent.AssemblerOption{agent.WithRecaller(rt.memory)}
	if reader != nil {
		assemblerOpts = append(assemblerOpts, agent.WithProjectReader(reader))
	}

	rt.controller = agent.New(llm,
		agent.WithAssembler(agent.NewAssembler(assemblerOpts...)),
		agent.WithMemory(rt.memory),
		agent.WithDispatcher(dispatcher),
		agent.WithMetrics(recorder),
		agent.WithModelTimeout(cfg.modelTimeout),
	)

	return rt, nil
}

// persona returns the persona by name
func (rt *runtime) persona(name string) (*agent.Persona, error) {
	switch name {
	case agent.PersonaMarketing:
		return rt.marketing, nil
	case agent.PersonaTechnical:
		return rt.technical, nil
	}
	return nil, goerr.New("unknown persona", goerr.V("persona", name))
}

// Close releases clients in reverse order of creation. The dispatcher is
// drained before the repository is closed.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
