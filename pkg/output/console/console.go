package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/envnode/pkg/output"
	"github.com/ericogr/envnode/pkg/sensor"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

func (c *ConsoleOutput) Publish(r sensor.Reading) error {
	_, err := fmt.Fprintf(c.w, "%s temperature=%.2f conductivity=%.2f flow=%.2f\n",
		r.Timestamp.Format(time.RFC3339), r.Temperature, r.Conductivity, r.Flow)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
