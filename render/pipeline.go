package render

import (
	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/symbol"
)

// Metrics receives pipeline events, labelled by level name.
type Metrics interface {
	LevelServed(level string)
	LevelFailed(level string)
}

// NoopMetrics discards all events.
type NoopMetrics struct{}

func (NoopMetrics) LevelServed(string) {}
func (NoopMetrics) LevelFailed(string) {}

// Options configures a Pipeline. The zero value is valid.
type Options struct {
	Metrics Metrics
	Logger  *zap.Logger
}

// Pipeline tries its levels in order; EmergencyLevel always runs last.
type Pipeline struct {
	levels []Level
	names  []string
	opt    Options
	log    *zap.Logger
}

// NewPipeline builds a pipeline from levels, appending EmergencyLevel.
func NewPipeline(opt Options, levels ...Level) *Pipeline {
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	p := &Pipeline{opt: opt, log: opt.Logger.Named("render")}
	for _, l := range levels {
		if l == nil {
			continue
		}
		if _, ok := l.(EmergencyLevel); ok {
			continue
		}
		p.levels = append(p.levels, l)
		p.names = append(p.names, levelName(l))
	}
	return p
}

// Draw renders req onto c and returns the name of the level that served
// it. A failing or panicking level only hands over to the next one.
func (p *Pipeline) Draw(c Canvas, req Request) string {
	for i, l := range p.levels {
		err := symbol.Guard(symbol.ErrPipelineLevelFailed, func() error { return l.Draw(c, req) })
		if err == nil {
			p.opt.Metrics.LevelServed(p.names[i])
			return p.names[i]
		}
		p.opt.Metrics.LevelFailed(p.names[i])
		p.log.Warn("render level failed",
			zap.String("level", p.names[i]),
			zap.String("owner", string(req.Owner)),
			zap.Error(err))
	}
	_ = EmergencyLevel{}.Draw(c, req)
	p.opt.Metrics.LevelServed(LevelEmergency)
	return LevelEmergency
}

// Levels returns the configured level names, emergency included.
func (p *Pipeline) Levels() []string {
	return append(append([]string(nil), p.names...), LevelEmergency)
}

func levelName(l Level) (name string) {
	name = "level"
	_ = symbol.Guard(symbol.ErrPipelineLevelFailed, func() error {
		name = l.Name()
		return nil
	})
	return name
}
