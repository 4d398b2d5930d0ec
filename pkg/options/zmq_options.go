package options

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ZmqOptions)(nil)

// ZmqOptions configures the ZeroMQ REP endpoints.
type ZmqOptions struct {
	// ControlEndpoint serves the full command set.
	ControlEndpoint string `json:"control-endpoint" mapstructure:"control-endpoint"`

	// ProbeEndpoint serves the same protocol, restricted to read-only commands unless
	// ProbeReadWrite is set. Empty disables it.
	ProbeEndpoint  string `json:"probe-endpoint" mapstructure:"probe-endpoint"`
	ProbeReadWrite bool   `json:"probe-read-write" mapstructure:"probe-read-write"`

	// RequestTimeout bounds the handling of a single request.
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`
}

func NewZmqOptions() *ZmqOptions {
	return &ZmqOptions{
		ControlEndpoint: "tcp://*:5552",
		ProbeEndpoint:   "tcp://*:5556",
		RequestTimeout:  5 * time.Minute,
	}
}

func (o *ZmqOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	for _, ep := range []string{o.ControlEndpoint, o.ProbeEndpoint} {
		if ep == "" {
			continue
		}
		if !strings.Contains(ep, "://") {
			errs = append(errs, fmt.Errorf("zmq endpoint %q must look like tcp://host:port", ep))
		}
	}
	if o.ControlEndpoint == "" {
		errs = append(errs, fmt.Errorf("--zmq.control-endpoint is required"))
	}
	if o.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--zmq.request-timeout must be positive"))
	}
	return errs
}

func (o *ZmqOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ControlEndpoint, "zmq.control-endpoint", o.ControlEndpoint, "ZeroMQ REP endpoint serving the control protocol.")
	fs.StringVar(&o.ProbeEndpoint, "zmq.probe-endpoint", o.ProbeEndpoint, "ZeroMQ REP endpoint for quick probes (empty disables).")
	fs.BoolVar(&o.ProbeReadWrite, "zmq.probe-read-write", o.ProbeReadWrite, "Accept mutating commands on the probe endpoint too.")
	fs.DurationVar(&o.RequestTimeout, "zmq.request-timeout", o.RequestTimeout, "Upper bound for handling a single request.")
}
