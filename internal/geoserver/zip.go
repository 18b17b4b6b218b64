// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package geoserver

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// ShapefileName returns the name, without extension, of the first .shp entry in the zip
func ShapefileName(zipPath string) (string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = reader.Close() }()

	for _, file := range reader.File {
		name := path.Base(file.Name)
		if strings.EqualFold(path.Ext(name), ".shp") {
			return strings.TrimSuffix(name, path.Ext(name)), nil
		}
	}
	return "", fmt.Errorf("no .shp file in %s", zipPath)
}

// RenameEntries copies the zip to destPath replacing oldText with newText in every entry name
func RenameEntries(zipPath, destPath, oldText, newText string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	writer := zip.NewWriter(dest)

	copyEntry := func(file *zip.File) error {
		header := file.FileHeader
		header.Name = strings.ReplaceAll(file.Name, oldText, newText)
		entryWriter, err := writer.CreateRaw(&header)
		if err != nil {
			return err
		}
		raw, err := file.OpenRaw()
		if err != nil {
			return err
		}
		_, err = io.Copy(entryWriter, raw)
		return err
	}

	for _, file := range reader.File {
		if err := copyEntry(file); err != nil {
			_ = writer.Close()
			_ = dest.Close()
			return fmt.Errorf("renaming %s: %w", file.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		_ = dest.Close()
		return err
	}
	return dest.Close()
}
