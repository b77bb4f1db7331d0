package eqws

type Option func(*Socket)

// WithTransportFactory replaces the default fasthttp websocket transport.
func WithTransportFactory(f TransportFactory) Option {
	return func(s *Socket) {
		s.factory = f
	}
}

// WithCodec selects the packet codec. JSONCodec is the default.
func WithCodec(c Codec) Option {
	return func(s *Socket) {
		s.codec = c
	}
}

func WithLogger(l logger) Option {
	return func(s *Socket) {
		s.logger = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Socket) {
		s.metrics = m
	}
}

// WithBackoff overrides the linear backoff built from Config, e.g. with
// ExponentialBackoffSeconds.
func WithBackoff(calculator backoffCalculator) Option {
	return func(s *Socket) {
		s.backoff = calculator
	}
}

// WithIDGenerator overrides how rpc correlation ids are drawn. Ids colliding
// with a pending call are drawn again.
func WithIDGenerator(gen func() string) Option {
	return func(s *Socket) {
		s.newID = gen
	}
}

func withScheduler(sched scheduler) Option {
	return func(s *Socket) {
		s.sched = sched
	}
}
