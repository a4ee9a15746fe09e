package interceptor

import (
	"go.uber.org/zap"

	"github.com/HerbHall/rebootguard/internal/attach"
	"github.com/HerbHall/rebootguard/internal/classify"
	"github.com/HerbHall/rebootguard/internal/host"
)

// guard builds the callback bound at p. It runs on the host's calling
// goroutine, so everything past suppression is handed to the launcher.
func (i *Interceptor) guard(p attach.Point) host.Guard {
	log := i.logger.With(zap.String("chain", p.Chain), zap.String("location", p.Location))

	return func(args []any) host.Verdict {
		req, ok := i.extract(log, p, args)
		if !ok {
			return host.Proceed
		}

		outcome := i.classifier.Classify(req)
		i.metrics.Classified(p.Chain, outcome.String())
		log.Info("reboot request classified",
			zap.Bool("reboot", req.IsReboot),
			zap.String("reason", req.ReasonString()),
			zap.Bool("confirm", req.Confirm),
			zap.String("decision", classify.Describe(req)),
			zap.Stringer("outcome", outcome),
		)
		if outcome != classify.Suppressed {
			return host.Proceed
		}

		i.metrics.Suppressed(p.Chain)
		log.Warn("reboot suppressed, handing off to executor")
		i.handOff(log, p.Chain)
		return host.Suppress
	}
}

// extract runs the point's extractor. A panic is an extraction failure and
// the call passes through untouched.
func (i *Interceptor) extract(log *zap.Logger, p attach.Point, args []any) (req classify.Request, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			i.metrics.ExtractionFailed(p.Chain)
			log.Error("extraction failed, passing through", zap.Any("panic", r), zap.Int("args", len(args)))
			ok = false
		}
	}()
	return p.Extractor.Extract(args), true
}

// handOff starts the executor. Once the original action is suppressed
// nothing may propagate back to the host caller.
func (i *Interceptor) handOff(log *zap.Logger, tag string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("executor hand-off failed after suppression", zap.Any("panic", r))
		}
	}()
	i.launcher.Execute(tag)
}
