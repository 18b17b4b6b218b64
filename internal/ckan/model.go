// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package ckan

// A ckan account which is mirrored as an oskari user
type User struct {
	// the ckan username; stable and used to match existing oskari users
	ScreenName   string
	UUID         string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Sysadmin     bool
}

// A ckan organization which is mirrored as an oskari role
type Organization struct {
	// the oskari role id, nil until the role is persisted
	ID          *int64
	UUID        string
	Name        string
	DisplayName string
	Title       string
	// members in dump order, unique by screenname
	Members []User
}

// Organizations are the same role if their names match
func (o Organization) Equal(other Organization) bool {
	return o.Name == other.Name
}

// AddMember appends the user unless a member with the same screenname exists
func (o *Organization) AddMember(user User) bool {
	for _, member := range o.Members {
		if member.ScreenName == user.ScreenName {
			return false
		}
	}
	o.Members = append(o.Members, user)
	return true
}

// HasMember reports whether the screenname belongs to the organization
func (o Organization) HasMember(screenName string) bool {
	for _, member := range o.Members {
		if member.ScreenName == screenName {
			return true
		}
	}
	return false
}

// NoFormat is the format given to resources that declare none
const NoFormat = "No format defined!"

// A single distribution of a ckan dataset
type Resource struct {
	UUID string
	// the resource url without any query string
	URL      string
	Format   string
	Version  string
	Username string
	Password string
	Name     string
	// raw last modified timestamp; falls back to the created timestamp
	LastModified string
	Private      bool
	Organization Organization
	// whether a published shapefile should also be exposed as wfs
	PublishWFS bool
	// the attribute used to crop wfs features, if any
	CroppingColumn string
	DatasetTitle   string
}

// A ckan dataset with the resources it contains
type Dataset struct {
	Name         string
	Title        string
	Private      bool
	Organization Organization
	Resources    []Resource
}
