package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}]. Numbers decode as json.Number when
// T holds untyped values.
// Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)
		decoder.UseNumber()

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// StreamJSONRecords reads a JSON array of flat objects as Records. Keys are
// normalized like column headers; numbers keep their literal text, booleans
// become "true"/"false" and null becomes an empty field. A nested object
// under "metrics" is flattened into the record.
func StreamJSONRecords(ctx context.Context, r io.Reader) (<-chan Record, <-chan error) {
	objCh, objErrCh := DecodeJSONArray[map[string]any](ctx, r)
	recCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		n := 0
		var convErr error
		for obj := range objCh {
			if convErr != nil {
				continue // drain
			}
			n++
			fields := make(map[string]string, len(obj))
			if err := flatten(obj, fields); err != nil {
				convErr = eris.Wrapf(err, "json: element %d", n)
				continue
			}
			select {
			case recCh <- Record{Row: n, Fields: fields}:
			case <-ctx.Done():
				convErr = eris.Wrap(ctx.Err(), "json: context cancelled")
			}
		}
		close(recCh)

		for err := range objErrCh {
			if err != nil {
				errCh <- err
				return
			}
		}
		if convErr != nil {
			errCh <- convErr
		}
	}()

	return recCh, errCh
}

func flatten(obj map[string]any, fields map[string]string) error {
	for k, v := range obj {
		key := NormalizeHeader(k)
		switch val := v.(type) {
		case nil:
			fields[key] = ""
		case string:
			fields[key] = val
		case json.Number:
			fields[key] = val.String()
		case bool:
			fields[key] = fmt.Sprintf("%t", val)
		case map[string]any:
			if key != "metrics" {
				return eris.Errorf("unsupported nested object %q", k)
			}
			if err := flatten(val, fields); err != nil {
				return err
			}
		default:
			return eris.Errorf("unsupported value for %q", k)
		}
	}
	return nil
}
