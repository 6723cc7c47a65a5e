package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
)

// BytesToResponse converts a stored byte slice back to a http.Response.
// The request is attached to the response and may be nil.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response.
// The response body is set back, so the response can still be sent to the client.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	if res.ProtoMajor == 0 {
		res.Proto, res.ProtoMajor, res.ProtoMinor = "HTTP/1.1", 1, 1
	}
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := BytesToResponse(bts, res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	res.ContentLength = clonedRes.ContentLength
	res.TransferEncoding = clonedRes.TransferEncoding
	// return buffer bytes
	return bts, nil
}

// Clone buffers the response body and returns an independent copy of the response.
// Both the original and the clone can be read in full afterwards.
func Clone(res *http.Response) (*http.Response, error) {
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, err
		}
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	clone := *res
	clone.Header = res.Header.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return &clone, nil
}
