package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the health and metrics endpoint. An empty Addr disables it.
type HttpOptions struct {
	Network string `json:"network" mapstructure:"network"`
	Addr    string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reading a request and writing its response.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// ShutdownTimeout bounds draining in-flight requests on exit.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network:         "tcp",
		Addr:            "0.0.0.0:9552",
		Timeout:         30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Enabled reports whether the endpoint should be served.
func (o *HttpOptions) Enabled() bool {
	return o != nil && o.Addr != ""
}

func (o *HttpOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errs := []error{}
	if o.Network != "tcp" && o.Network != "tcp4" && o.Network != "tcp6" {
		errs = append(errs, fmt.Errorf("--http.network must be tcp, tcp4 or tcp6"))
	}
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("--http.timeout must be positive"))
	}
	return errs
}

func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Network of the health and metrics endpoint.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Address of the health and metrics endpoint (/healthz, /readyz, /metrics). Empty disables it.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Read and write timeout of HTTP requests.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "How long to drain HTTP requests on exit.")
}
