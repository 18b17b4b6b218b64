// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package ckan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/internetofwater/ckansync/internal/opentelemetry"
	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// number of datasets requested per package_search page
const DefaultPageSize = 1000

// Querier is the subset of a pgx pool used for reading the ckan database
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// APISource reads records from the ckan action api instead of dump files
type APISource struct {
	client  *http.Client
	baseURL string
	apiKey  string
	// read password hashes from the ckan database since the api never returns them; may be nil
	passwords Querier
	PageSize  int
}

func NewAPISource(client *http.Client, baseURL, apiKey string, passwords Querier) *APISource {
	return &APISource{
		client:    client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		passwords: passwords,
		PageSize:  DefaultPageSize,
	}
}

// call an action and return the raw json of its result
func (a *APISource) action(ctx context.Context, name string, params url.Values) (gjson.Result, error) {
	endpoint := fmt.Sprintf("%s/api/3/action/%s?%s", a.baseURL, name, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", a.apiKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("ckan action %s returned status %d", name, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("ckan action %s returned invalid json", name)
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.Get("success").Bool() {
		return gjson.Result{}, fmt.Errorf("ckan action %s failed: %s", name, parsed.Get("error").Raw)
	}
	return parsed.Get("result"), nil
}

func rawElements(result gjson.Result) []string {
	var lines []string
	for _, element := range result.Array() {
		lines = append(lines, element.Raw)
	}
	return lines
}

func (a *APISource) Organizations(ctx context.Context) ([]string, error) {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	result, err := a.action(ctx, "organization_list", url.Values{
		"all_fields":    {"true"},
		"include_users": {"true"},
		"limit":         {strconv.Itoa(a.PageSize)},
	})
	if err != nil {
		return nil, err
	}
	return rawElements(result), nil
}

// Users returns the ckan users with their password hashes merged in from the ckan database
func (a *APISource) Users(ctx context.Context) ([]string, error) {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	var (
		users  gjson.Result
		hashes map[string]string
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		users, err = a.action(groupCtx, "user_list", url.Values{"all_fields": {"true"}})
		return err
	})
	group.Go(func() error {
		var err error
		hashes, err = a.passwordHashes(groupCtx)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var lines []string
	for _, user := range users.Array() {
		hash, ok := hashes[user.Get("name").String()]
		if !ok {
			lines = append(lines, user.Raw)
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(user.Raw), &fields); err != nil {
			return nil, err
		}
		fields["password_hash"] = hash
		merged, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		lines = append(lines, string(merged))
	}
	return lines, nil
}

func (a *APISource) passwordHashes(ctx context.Context) (map[string]string, error) {
	hashes := map[string]string{}
	if a.passwords == nil {
		log.Warn("No ckan database configured; users harvested from the api will have no passwords")
		return hashes, nil
	}
	rows, err := a.passwords.Query(ctx, `SELECT name, password FROM "user" WHERE state = 'active' AND password IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("reading ckan password hashes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, err
		}
		hashes[name] = hash
	}
	return hashes, rows.Err()
}

// Datasets pages through package_search including private datasets
func (a *APISource) Datasets(ctx context.Context) ([]string, error) {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	first, err := a.searchPage(ctx, 0)
	if err != nil {
		return nil, err
	}
	count := int(first.Get("count").Int())
	pages := [][]string{rawElements(first.Get("results"))}
	if count <= a.PageSize {
		return pages[0], nil
	}

	remaining := (count - 1) / a.PageSize
	pages = append(pages, make([][]string, remaining)...)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for page := 1; page <= remaining; page++ {
		group.Go(func() error {
			result, err := a.searchPage(groupCtx, page*a.PageSize)
			if err != nil {
				return err
			}
			pages[page] = rawElements(result.Get("results"))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var lines []string
	for _, page := range pages {
		lines = append(lines, page...)
	}
	log.Infof("Fetched %d datasets from %s", len(lines), a.baseURL)
	return lines, nil
}

func (a *APISource) searchPage(ctx context.Context, start int) (gjson.Result, error) {
	return a.action(ctx, "package_search", url.Values{
		"q":               {"*:*"},
		"rows":            {strconv.Itoa(a.PageSize)},
		"start":           {strconv.Itoa(start)},
		"include_private": {"true"},
		"sort":            {"id asc"},
	})
}

var _ Source = &APISource{}
