package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/bankupdate/pkg/client"
	"github.com/autopeer-io/bankupdate/pkg/log"
	"github.com/autopeer-io/bankupdate/pkg/options"
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// formatTimeout is the wait for FormatOtherBank, which answers only once the bank is wiped.
const formatTimeout = 5 * time.Minute

type Options struct {
	Endpoint      string
	ProbeEndpoint string
	Probe         bool
	Timeout       time.Duration
	Output        string

	Mqtt *options.MqttOptions
	Log  *log.Options
}

func NewOptions() *Options {
	return &Options{
		Endpoint:      "tcp://127.0.0.1:5552",
		ProbeEndpoint: "tcp://127.0.0.1:5556",
		Timeout:       client.DefaultControlTimeout,
		Output:        OutputTable,
		Mqtt:          options.NewMqttOptions(),
		Log:           newLogOptions(),
	}
}

func newLogOptions() *log.Options {
	o := log.NewOptions()
	o.Level = "warn"
	return o
}

func (o *Options) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.addFlags(fss.FlagSet("client"))
	o.Mqtt.AddFlags(fss.FlagSet("mqtt"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *Options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Endpoint, "endpoint", "e", o.Endpoint, "Control endpoint of bankupdated.")
	fs.StringVar(&o.ProbeEndpoint, "probe-endpoint", o.ProbeEndpoint, "Read-only probe endpoint of bankupdated.")
	fs.BoolVar(&o.Probe, "probe", o.Probe, "Query the probe endpoint with the short probe timeout.")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "How long to wait for a reply.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output format: table or json.")
}

func (o *Options) Validate() error {
	errs := []error{}
	if o.Output != OutputTable && o.Output != OutputJSON {
		errs = append(errs, fmt.Errorf("--output must be %q or %q", OutputTable, OutputJSON))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("--timeout must be positive"))
	}
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// client returns a client for the chosen endpoint, over MQTT when a broker is set. A
// non-zero wait overrides the configured timeout.
func (o *Options) client(ctx context.Context, wait time.Duration) (*client.Client, error) {
	if wait == 0 {
		wait = o.Timeout
	}
	if o.Mqtt.Enabled() {
		return client.DialMQTT(ctx, o.Mqtt, client.WithTimeout(wait))
	}
	if o.Probe {
		return client.NewProbe(o.ProbeEndpoint), nil
	}
	return client.New(o.Endpoint, client.WithTimeout(wait)), nil
}
