package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/containerctx"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/state"
	"github.com/cuemby/warren/pkg/task"
	"github.com/cuemby/warren/pkg/types"
)

// Proxy implements spec.md §4.4 "Routing" and §6 "Proxy plane": resolve the
// inbound request's target project by host header (platform subdomain or
// attached custom FQDN), wake it if Stopped, then forward to its container
// on the user service port (userPort). Grounded on the teacher's
// pkg/ingress/proxy.go reverse-proxy shape, generalized from load-balancing
// across cluster nodes to routing to exactly one project's container.
type Proxy struct {
	store          *Store
	engine         containerctx.Context
	router         *task.Router
	platformSuffix string
	userPort       int
	opts           state.Options // template: ManagementPort/attempt-caps/grace only, see optionsFor
}

func NewProxy(store *Store, engine containerctx.Context, router *task.Router, platformSuffix string, userPort int, opts state.Options) *Proxy {
	return &Proxy{store: store, engine: engine, router: router, platformSuffix: platformSuffix, userPort: userPort, opts: opts}
}

// optionsFor fills in the project-identifying fields the shared opts
// template leaves blank (spec.md §4.2 Options), mirroring
// pkg/worker/ambulance.go's optionsFor.
func (p *Proxy) optionsFor(project types.Project) state.Options {
	opts := p.opts
	opts.ProjectName = project.Name
	opts.ContainerLabels = map[string]string{"project": project.Name}
	opts.IdleMinutes = project.IdleMinutes
	return opts
}

// resolveProjectName maps a request Host header to a project name, either
// the platform subdomain form `<project>.<platform-fqdn>` or a registered
// custom domain.
func (p *Proxy) resolveProjectName(ctx context.Context, host string) (string, error) {
	host = strings.SplitN(host, ":", 2)[0]
	if strings.HasSuffix(host, "."+p.platformSuffix) {
		return strings.TrimSuffix(host, "."+p.platformSuffix), nil
	}
	project, err := p.store.ProjectForCustomDomain(ctx, host)
	if err != nil {
		return "", err
	}
	return project.Name, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name, err := p.resolveProjectName(ctx, r.Host)
	if err != nil {
		p.writeError(w, err)
		return
	}

	project, err := p.store.FindProject(ctx, name)
	if err != nil {
		p.writeError(w, err)
		return
	}

	current, err := p.store.LoadState(ctx, name)
	if err != nil {
		p.writeError(w, err)
		return
	}

	if current.Kind == state.KindStopped {
		if err := p.wake(ctx, project); err != nil {
			if markErr := p.store.MarkPendingTraffic(ctx, name); markErr != nil {
				log.WithProjectID(project.ID).Warn().Err(markErr).Msg("failed to record pending traffic marker")
			}
			p.writeError(w, err)
			return
		}
		current, err = p.store.LoadState(ctx, name)
		if err != nil {
			p.writeError(w, err)
			return
		}
		_ = p.store.ClearPendingTraffic(ctx, name)
	}

	containerID := current.ContainerID()
	if containerID == "" {
		p.writeError(w, apierrors.New(apierrors.ProjectUnavailable, name))
		return
	}

	insp, err := p.engine.Inspect(ctx, containerID)
	if err != nil || len(insp.Networks) == 0 {
		p.writeError(w, apierrors.New(apierrors.ProjectUnavailable, name))
		return
	}

	controlKey, err := p.store.ControlKeyFromProjectName(ctx, name)
	if err != nil {
		p.writeError(w, err)
		return
	}

	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", insp.Networks[0].IP, p.userPort)}
	rp := httputil.NewSingleHostReverseProxy(target)
	originalDirector := rp.Director
	rp.Director = func(req *http.Request) {
		originalDirector(req)
		req.Header.Set("X-Shuttle-Account-Name", project.AccountID)
		req.Header.Set("X-Shuttle-Admin-Secret", controlKey)
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.WithProjectID(project.ID).Warn().Err(err).Msg("proxy request failed")
		p.writeError(w, apierrors.New(apierrors.ProjectUnavailable, name))
	}

	rp.ServeHTTP(w, r)
}

// wake runs the start -> run_until_done sequence and blocks until it
// completes or its deadline passes (spec.md §4.4 step 2). No check_health
// step runs before the request is forwarded.
func (p *Proxy) wake(ctx context.Context, project types.Project) error {
	name := project.Name
	seq := task.NewSequence(
		task.NewStartTask(name, p.store),
		task.NewRunUntilDone(name, p.store, p.engine, p.optionsFor(project)),
	)
	routed := task.NewRoute(p.router, name, seq)
	notify := task.NewAndThenNotify(routed)

	deadline := time.Now().Add(p.opts.ContainerStopGrace + 300*time.Second)
	for {
		res := notify.Poll(ctx)
		if res.Status != task.Pending {
			if res.Status == task.Err {
				return res.Err
			}
			return nil
		}
		if time.Now().After(deadline) {
			return apierrors.New(apierrors.ProjectNotReady, name)
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Proxy) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if apiErr, ok := apierrors.As(err); ok {
		status = apiErr.HTTPStatus()
	}
	http.Error(w, err.Error(), status)
}
