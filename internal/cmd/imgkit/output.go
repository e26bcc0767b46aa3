package main

import (
	"errors"
	"io"
	"os"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/octohelm/imgkit/pkg/importer"
)

type output struct {
	out io.Writer
}

func (o *output) writer() io.Writer {
	if o.out != nil {
		return o.out
	}
	return os.Stdout
}

func (o *output) write(v any) error {
	if err := json.MarshalWrite(o.writer(), v, jsontext.WithIndent("  ")); err != nil {
		return err
	}
	_, err := io.WriteString(o.writer(), "\n")
	return err
}

// report writes outcomes and fails when any of them failed.
func (o *output) report(outcomes []importer.Outcome) error {
	if err := o.write(outcomes); err != nil {
		return err
	}

	errs := make([]error, 0)
	for _, outcome := range outcomes {
		if err := outcome.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
