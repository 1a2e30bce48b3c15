//go:build mage

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	candidatesFile = "data/candidates.yaml"
	enrichedFile   = "data/output/enriched.yaml"
)

// Recover builds the CLI and runs recovery on data/candidates.yaml, writing
// the enriched records to data/output/enriched.yaml. Re-running resumes.
func Recover() error {
	mg.Deps(Init, Build)
	return sh.RunV(filepath.Join(binDir, binName), "recover", candidatesFile, "-o", enrichedFile)
}

// Status prints the checkpoint summary.
func Status() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "status")
}
