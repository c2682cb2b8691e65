// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package markers

import (
	"os"
	"testing"

	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestVersionSemver(t *testing.T) {
	v, err := version.NewSemver(Version())
	require.NoError(t, err, "version is not semver: %s", Version())
	assert.Empty(t, v.Prerelease())
}

func TestVersionMatchesYaml(t *testing.T) {
	versionYaml, err := os.ReadFile("versions.yaml")
	require.NoError(t, err, "Couldn't read versions.yaml file")

	var versionInfo struct {
		ModuleSets map[string]struct {
			Version string   `yaml:"version"`
			Modules []string `yaml:"modules"`
		} `yaml:"module-sets"`
	}
	err = yaml.Unmarshal(versionYaml, &versionInfo)
	require.NoError(t, err, "Couldn't parse versions.yaml")

	set, ok := versionInfo.ModuleSets["markers"]
	require.True(t, ok, "markers module set missing")
	assert.Equal(t, set.Version, Version(), "Build version should match versions.yaml.")
}
