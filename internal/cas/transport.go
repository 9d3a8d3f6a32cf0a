// Copyright 2024 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cas

import (
	"context"
	"io"
	"net/http"

	"go.chromium.org/mrsetup/common/errors"
)

// HTTPTransport is the default Transport: a plain GET over an
// *http.Client. No third-party HTTP client exists anywhere in the
// example pack, so this is the one ambient concern in this package built
// directly on the standard library (see DESIGN.md).
type HTTPTransport struct {
	Client *http.Client
}

// Fetch implements Transport.
func (t *HTTPTransport) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Annotate(err, "building request for %s", rawURL).Fatal().Err()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Annotate(err, "fetching %s", rawURL).Err()
	}
	if resp.StatusCode/100 == 5 {
		resp.Body.Close()
		return nil, errors.Reason("server error fetching %s: %s", rawURL, resp.Status).Err()
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Reason("unexpected status fetching %s: %s", rawURL, resp.Status).Fatal().Err()
	}
	return resp.Body, nil
}
