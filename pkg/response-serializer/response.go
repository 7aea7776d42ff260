package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// BytesToResponse converts a stored HTTP/1.1 response to a http.Response.
func BytesToResponse(b []byte) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
}

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response.
// The response body is left intact.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	bts := buf.Bytes()
	// set response body back
	clonedRes, err := BytesToResponse(bts)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	return bts, nil
}

// WriteResponse replays a response to the client.
// Headers already present on the writer are kept.
func WriteResponse(w http.ResponseWriter, res *http.Response) error {
	defer res.Body.Close()
	for name, values := range res.Header {
		// the body is written as is, hop-by-hop framing is up to the server
		if name == "Transfer-Encoding" || name == "Connection" {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(res.StatusCode)
	n, err := io.Copy(w, res.Body)
	if err != nil {
		log.Warn().Err(err).Int64("written", n).Msg("Could not write stored response body")
	}
	return err
}
