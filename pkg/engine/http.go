// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"bufio"
	"bytes"
	"net/http"
	"regexp"

	"github.com/pkg/errors"
)

type (
	HTTPTransaction struct {
		ID uint64

		Method   string
		URI      string
		Protocol string
		Hostname string

		UserAgent string
		Referer   string

		// canonicalized by `net/http`; lookups are case-insensitive
		RequestHeaders http.Header

		HasResponse bool
		Status      int
		ContentType string
		Location    string
		Length      int64
	}

	// HTTPState holds the HTTP/1.x transactions of one flow, in request order.
	// It is guarded by the owning flow's lock.
	HTTPState struct {
		txs []*HTTPTransaction
		// next transaction waiting for a response
		pendingResponse uint64
	}
)

const (
	http11RequestPayloadRegexStr  = `^(?P<method>[A-Z]+?)\s(?P<url>.+?)\sHTTP/1\.[01](?:\r?\n)?.*`
	http11ResponsePayloadRegexStr = `^HTTP/1\.[01]\s(?P<code>\d{3})\s?(?P<status>.*?)(?:\r?\n)?.*`
)

var (
	http11RequestPayloadRegex  = regexp.MustCompile(http11RequestPayloadRegexStr)
	http11ResponsePayloadRegex = regexp.MustCompile(http11ResponsePayloadRegexStr)

	errNotHTTP         = errors.New("payload is not HTTP/1.x")
	errOrphanResponse  = errors.New("no request waiting for a response")
	errMalformedHTTP11 = errors.New("malformed HTTP/1.x message")
)

func IsHTTPRequest(payload []byte) bool {
	return http11RequestPayloadRegex.Match(payload)
}

func IsHTTPResponse(payload []byte) bool {
	return http11ResponsePayloadRegex.Match(payload)
}

func NewHTTPState() *HTTPState {
	return &HTTPState{}
}

func (s *HTTPState) TxCount() uint64 {
	if s == nil {
		return 0
	}
	return uint64(len(s.txs))
}

func (s *HTTPState) Transaction(txID uint64) (*HTTPTransaction, bool) {
	if s == nil || txID >= uint64(len(s.txs)) {
		return nil, false
	}
	tx := s.txs[txID]
	return tx, tx != nil
}

// LogTxID is the log cursor: the most recent request seen on the flow.
func (s *HTTPState) LogTxID() uint64 {
	if s == nil || len(s.txs) == 0 {
		return 0
	}
	return uint64(len(s.txs) - 1)
}

func (s *HTTPState) RequestHeader(txID uint64, name string) ([]byte, bool) {
	tx, ok := s.Transaction(txID)
	if !ok {
		return nil, false
	}
	return tx.RequestHeader(name)
}

// RequestHeader returns the first value of the request header name.
func (tx *HTTPTransaction) RequestHeader(name string) ([]byte, bool) {
	if tx == nil || tx.RequestHeaders == nil {
		return nil, false
	}
	values := tx.RequestHeaders.Values(name)
	if len(values) == 0 {
		return nil, false
	}
	return []byte(values[0]), true
}

// AddRequest parses payload as an HTTP/1.x request and records a new transaction.
// The request line and headers are expected to fit in payload.
func (s *HTTPState) AddRequest(payload []byte) (*HTTPTransaction, error) {
	if !IsHTTPRequest(payload) {
		return nil, errNotHTTP
	}

	request, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return nil, errors.Wrap(errMalformedHTTP11, err.Error())
	}

	tx := &HTTPTransaction{
		ID:             uint64(len(s.txs)),
		Method:         request.Method,
		URI:            request.RequestURI,
		Protocol:       request.Proto,
		Hostname:       request.Host,
		UserAgent:      request.UserAgent(),
		Referer:        request.Referer(),
		RequestHeaders: request.Header,
		Length:         -1,
	}
	s.txs = append(s.txs, tx)

	return tx, nil
}

// AddResponse attaches the response in payload to the oldest transaction without one.
func (s *HTTPState) AddResponse(payload []byte) (*HTTPTransaction, error) {
	if !IsHTTPResponse(payload) {
		return nil, errNotHTTP
	}

	tx, ok := s.Transaction(s.pendingResponse)
	if !ok {
		return nil, errOrphanResponse
	}

	response, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(payload)), nil)
	if err != nil {
		return nil, errors.Wrap(errMalformedHTTP11, err.Error())
	}
	defer response.Body.Close()

	tx.HasResponse = true
	tx.Status = response.StatusCode
	tx.ContentType = response.Header.Get("Content-Type")
	tx.Location = response.Header.Get("Location")
	tx.Length = response.ContentLength
	s.pendingResponse += 1

	return tx, nil
}
