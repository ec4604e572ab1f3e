package console

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"github.com/ericogr/envnode/pkg/sensor"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	stdout := os.Stdout
	os.Stdout = w
	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()
	f()
	_ = w.Close()
	os.Stdout = stdout
	return <-outC
}

func TestConsolePublish(t *testing.T) {
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	reading := sensor.Reading{Timestamp: ts, Temperature: 21.5, Conductivity: 40.126, Flow: 3}
	out := captureStdout(func() { _ = NewConsole().Publish(reading) })
	want := "2025-09-19T14:41:54Z temperature=21.50 conductivity=40.13 flow=3.00\n"
	if out != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", out, want)
	}
}
