package control

import (
	"os"
	"strings"
	"sync"

	"github.com/FlechetteLabs/Tollbooth/adapter"
	C "github.com/FlechetteLabs/Tollbooth/constant"
	"github.com/FlechetteLabs/Tollbooth/option"
	"github.com/sagernet/sing/common"
	"github.com/sagernet/sing/common/atomic"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"

	"github.com/fsnotify/fsnotify"
)

var _ adapter.Service = (*InterceptPolicy)(nil)

// InterceptPolicy holds the two independent pause gates: the explicit
// intercept mode and the rules toggle. Both live on the operator side
// and are only mutated by inbound commands.
type InterceptPolicy struct {
	logger       logger.Logger
	mode         atomic.TypedValue[string]
	rulesEnabled atomic.Bool
	hostsPath    string
	hostsAccess  sync.RWMutex
	knownHosts   []string
	watcher      *fsnotify.Watcher
}

func NewInterceptPolicy(logger logger.Logger, options option.ControlOptions) *InterceptPolicy {
	policy := &InterceptPolicy{
		logger:    logger,
		hostsPath: options.KnownEndpointsPath,
	}
	policy.mode.Store(C.ModePassthrough)
	if len(options.KnownEndpoints) > 0 {
		policy.knownHosts = options.KnownEndpoints
	} else {
		policy.knownHosts = C.DefaultKnownEndpoints
	}
	return policy
}

func (p *InterceptPolicy) Start() error {
	if p.hostsPath == "" {
		return nil
	}
	err := p.reloadKnownHosts()
	if err != nil {
		return err
	}
	err = p.startWatcher()
	if err != nil {
		p.logger.Warn("create fsnotify watcher: ", err)
	}
	return nil
}

func (p *InterceptPolicy) Close() error {
	return common.Close(common.PtrOrNil(p.watcher))
}

func (p *InterceptPolicy) Mode() string {
	return p.mode.Load()
}

func (p *InterceptPolicy) SetMode(mode string) {
	p.mode.Store(mode)
}

func (p *InterceptPolicy) RulesEnabled() bool {
	return p.rulesEnabled.Load()
}

func (p *InterceptPolicy) SetRulesEnabled(enabled bool) {
	p.rulesEnabled.Store(enabled)
}

// ShouldPause reports whether a flow to host must wait for an operator
// decision. The rules toggle forces pausing regardless of mode.
func (p *InterceptPolicy) ShouldPause(host string) bool {
	if p.rulesEnabled.Load() {
		return true
	}
	switch p.mode.Load() {
	case C.ModeInterceptAll:
		return true
	case C.ModeInterceptLLM:
		return p.IsKnownEndpoint(host)
	default:
		return false
	}
}

// IsKnownEndpoint matches host against the known endpoint list by
// substring containment.
func (p *InterceptPolicy) IsKnownEndpoint(host string) bool {
	p.hostsAccess.RLock()
	defer p.hostsAccess.RUnlock()
	for _, knownHost := range p.knownHosts {
		if strings.Contains(host, knownHost) {
			return true
		}
	}
	return false
}

func (p *InterceptPolicy) reloadKnownHosts() error {
	content, err := os.ReadFile(p.hostsPath)
	if err != nil {
		return E.Cause(err, "read known endpoints from ", p.hostsPath)
	}
	var hosts []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	p.hostsAccess.Lock()
	p.knownHosts = hosts
	p.hostsAccess.Unlock()
	p.logger.Info("loaded ", len(hosts), " known endpoints from ", p.hostsPath)
	return nil
}

func (p *InterceptPolicy) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = watcher.Add(p.hostsPath)
	if err != nil {
		watcher.Close()
		return err
	}
	p.watcher = watcher
	go p.loopUpdate()
	return nil
}

func (p *InterceptPolicy) loopUpdate() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			err := p.reloadKnownHosts()
			if err != nil {
				p.logger.Error(E.Cause(err, "reload known endpoints"))
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error(E.Cause(err, "fsnotify error"))
		}
	}
}
