// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package ckan

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// An error for a single dump line that could not be turned into a record
type ParseError struct {
	// the kind of record being parsed
	Kind string
	// 1-based position of the line in the dump
	Line int
	Err  error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("unable to parse ckan %s on line %d: %v", e.Kind, e.Line, e.Err)
}

func (e ParseError) Unwrap() error {
	return e.Err
}

// parse every line with the given function, logging and skipping the ones that fail
func parseLines[T any](kind string, lines []string, parse func(gjson.Result) (T, error)) []T {
	log.Infof("Parsing %d ckan %s records", len(lines), kind)
	records := make([]T, 0, len(lines))
	for i, line := range lines {
		if !gjson.Valid(line) {
			log.Error(ParseError{Kind: kind, Line: i + 1, Err: fmt.Errorf("invalid json")})
			continue
		}
		record, err := parse(gjson.Parse(line))
		if err != nil {
			log.Error(ParseError{Kind: kind, Line: i + 1, Err: err})
			continue
		}
		records = append(records, record)
	}
	return records
}

// ParseUsers turns user dump lines into users
func ParseUsers(lines []string) []User {
	return parseLines("user", lines, parseUser)
}

// ParseOrganizations turns organization dump lines into organizations with their members
func ParseOrganizations(lines []string) []Organization {
	return parseLines("organization", lines, parseOrganization)
}

// ParseDatasets turns dataset dump lines into datasets with their resources
func ParseDatasets(lines []string) []Dataset {
	return parseLines("dataset", lines, parseDataset)
}

// Resources flattens the resources of all datasets in order
func Resources(datasets []Dataset) []Resource {
	var resources []Resource
	for _, dataset := range datasets {
		resources = append(resources, dataset.Resources...)
	}
	return resources
}

// UniqueResources keeps one resource per uuid, in first-seen order.
// When the primary and secondary dumps both carry a resource the most
// recently modified copy wins; timestamps share one fixed-width layout
// so they order as strings
func UniqueResources(resources []Resource) []Resource {
	positions := make(map[string]int, len(resources))
	unique := make([]Resource, 0, len(resources))
	for _, resource := range resources {
		position, seen := positions[resource.UUID]
		if !seen {
			positions[resource.UUID] = len(unique)
			unique = append(unique, resource)
			continue
		}
		log.Debugf("Resource %s appears more than once in the dataset dumps", resource.UUID)
		if resource.LastModified > unique[position].LastModified {
			unique[position] = resource
		}
	}
	return unique
}

func parseUser(json gjson.Result) (User, error) {
	if !json.IsObject() {
		return User{}, fmt.Errorf("user is not an object")
	}
	user := User{
		ScreenName:   json.Get("name").String(),
		UUID:         json.Get("id").String(),
		Email:        json.Get("email").String(),
		PasswordHash: json.Get("password_hash").String(),
		Sysadmin:     json.Get("sysadmin").Bool(),
	}
	if user.ScreenName == "" {
		return User{}, fmt.Errorf("user has no name")
	}
	user.FirstName, user.LastName = SplitFullName(json.Get("fullname").String(), user.ScreenName)
	return user, nil
}

// SplitFullName derives first and last names from a ckan full name.
// The first and last whitespace separated tokens are used; a missing
// full name falls back to the screenname with an empty last name
func SplitFullName(fullName, screenName string) (string, string) {
	names := strings.Fields(fullName)
	switch len(names) {
	case 0:
		return screenName, ""
	case 1:
		return names[0], ""
	default:
		return names[0], names[len(names)-1]
	}
}

func parseOrganization(json gjson.Result) (Organization, error) {
	if !json.IsObject() {
		return Organization{}, fmt.Errorf("organization is not an object")
	}
	org := organizationFromJSON(json)
	if org.Name == "" {
		return Organization{}, fmt.Errorf("organization has no name")
	}
	for _, member := range json.Get("users").Array() {
		user, err := parseUser(member)
		if err != nil {
			log.Warnf("Skipping member of organization %s: %v", org.Name, err)
			continue
		}
		org.AddMember(user)
	}
	return org, nil
}

func organizationFromJSON(json gjson.Result) Organization {
	return Organization{
		UUID:        json.Get("id").String(),
		Name:        json.Get("name").String(),
		DisplayName: json.Get("display_name").String(),
		Title:       json.Get("title").String(),
	}
}

func parseDataset(json gjson.Result) (Dataset, error) {
	if !json.IsObject() {
		return Dataset{}, fmt.Errorf("dataset is not an object")
	}
	resources := json.Get("resources")
	if !resources.IsArray() {
		return Dataset{}, fmt.Errorf("dataset %s has no resources array", json.Get("name").String())
	}
	dataset := Dataset{
		Name:         json.Get("name").String(),
		Title:        json.Get("title").String(),
		Private:      json.Get("private").Bool(),
		Organization: organizationFromJSON(json.Get("organization")),
	}
	for _, resource := range resources.Array() {
		dataset.Resources = append(dataset.Resources, parseResource(resource, dataset))
	}
	return dataset, nil
}

func parseResource(json gjson.Result, dataset Dataset) Resource {
	format := NoFormat
	if f := json.Get("format"); f.Exists() && f.Type != gjson.Null {
		format = f.String()
	}
	lastModified := json.Get("last_modified").String()
	if lastModified == "" {
		lastModified = json.Get("created").String()
	}
	url, _, _ := strings.Cut(json.Get("url").String(), "?")

	return Resource{
		UUID:           json.Get("id").String(),
		URL:            url,
		Format:         format,
		Version:        json.Get("version").String(),
		Username:       json.Get("username").String(),
		Password:       json.Get("password").String(),
		Name:           json.Get("name").String(),
		LastModified:   lastModified,
		Private:        dataset.Private,
		Organization:   dataset.Organization,
		PublishWFS:     parsePublishWFS(json.Get("publish_wfs")),
		CroppingColumn: json.Get("cropping_unique_column").String(),
		DatasetTitle:   dataset.Title,
	}
}

// publish_wfs is stored as a string extra in ckan; absent means publish
func parsePublishWFS(value gjson.Result) bool {
	switch value.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.String:
		if value.Str == "" {
			return true
		}
		return strings.EqualFold(value.Str, "true")
	default:
		return true
	}
}
