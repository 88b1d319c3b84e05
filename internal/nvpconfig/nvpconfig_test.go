// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

package nvpconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, dir, name, mtdDevice string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	body := "mtd_device: " + mtdDevice + "\n"
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadExplicitPathTakesPrecedence(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	path := writeConfig(t, dir, "explicit.yaml", "/dev/mtd3")
	t.Setenv(EnvVar, writeConfig(t, dir, "envvar.yaml", "/dev/mtd9"))

	d, err := Load(path)
	assert.NoError(err)
	assert.Equal("/dev/mtd3", d.MTDDevice)
}

func TestLoadFallsBackToEnvVar(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	t.Setenv(EnvVar, writeConfig(t, dir, "envvar.yaml", "/dev/mtd9"))

	d, err := Load("")
	assert.NoError(err)
	assert.Equal("/dev/mtd9", d.MTDDevice)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	assert := assert.New(t)

	t.Setenv(EnvVar, "")

	d, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.NoError(err)
	assert.Equal(Defaults{}, d)
}

func TestResolvePartitionFallsBackToNameWhenUnmapped(t *testing.T) {
	assert := assert.New(t)

	d := Defaults{Partitions: map[string]string{"boot": "validation"}}
	assert.Equal("validation", d.ResolvePartition("boot"))
	assert.Equal("other", d.ResolvePartition("other"))
}
