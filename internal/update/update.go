// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package update probes GitHub for a newer CLI release. The probe is
// fire-and-forget: a command starts it alongside its real work, then
// asks once at exit whether an answer arrived. It never blocks a
// command and failure is only ever a debug log line.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultURL is GitHub's latest-release endpoint for this CLI.
	DefaultURL = "https://api.github.com/repos/mdsaad/mdsaad/releases/latest"

	// probeBudget bounds the whole probe including retries. Commands
	// usually outlive it; when they don't, the answer is dropped.
	probeBudget = 3 * time.Second

	maxRetries = 2

	maxBodyBytes = 1 << 20
)

// Release is a published version newer than the running one.
type Release struct {
	Version string
	URL     string
}

// Options configure a probe. The zero value hits the real endpoint with
// a default client.
type Options struct {
	URL     string
	Client  *http.Client
	Version string // running version, e.g. "2.1.0"
	Log     *logrus.Logger
}

// Notifier carries the probe's answer, at most one.
type Notifier struct {
	ch chan Release
}

// Start launches the probe in the background. A disabled notifier (nil
// receiver friendly) is returned when version is empty.
func Start(ctx context.Context, o Options) *Notifier {
	if o.Version == "" {
		return nil
	}
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: probeBudget}
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	n := &Notifier{ch: make(chan Release, 1)}
	go n.probe(ctx, o)
	return n
}

// Poll returns a newer release when the probe found one, nil otherwise.
// Never blocks: a probe still in flight reads as "no news".
func (n *Notifier) Poll() *Release {
	if n == nil {
		return nil
	}
	select {
	case r := <-n.ch:
		return &r
	default:
		return nil
	}
}

func (n *Notifier) probe(ctx context.Context, o Options) {
	ctx, cancel := context.WithTimeout(ctx, probeBudget)
	defer cancel()

	var rel Release
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		resp, err := o.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			// 403 is GitHub's API rate limit; retrying inside one probe
			// will not help.
			if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
				return backoff.Permanent(fmt.Errorf("update: http %d", resp.StatusCode))
			}
			return fmt.Errorf("update: http %d", resp.StatusCode)
		}
		var body struct {
			TagName string `json:"tag_name"`
			HTMLURL string `json:"html_url"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
			return err
		}
		rel = Release{Version: strings.TrimPrefix(body.TagName, "v"), URL: body.HTMLURL}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = probeBudget
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.WithContext(b, ctx), maxRetries)); err != nil {
		o.Log.WithError(err).Debug("update: release probe failed")
		return
	}
	if Newer(rel.Version, o.Version) {
		n.ch <- rel
	}
}

// Newer reports whether candidate is a strictly newer version than
// current. Versions compare numerically per dotted part; a malformed
// part makes the comparison false rather than noisy.
func Newer(candidate, current string) bool {
	cand := strings.Split(strings.TrimPrefix(candidate, "v"), ".")
	cur := strings.Split(strings.TrimPrefix(current, "v"), ".")
	for i := 0; i < len(cand) || i < len(cur); i++ {
		a, b := 0, 0
		var err error
		if i < len(cand) {
			if a, err = strconv.Atoi(cand[i]); err != nil {
				return false
			}
		}
		if i < len(cur) {
			if b, err = strconv.Atoi(cur[i]); err != nil {
				return false
			}
		}
		if a != b {
			return a > b
		}
	}
	return false
}
