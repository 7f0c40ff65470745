package codeowners

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const header = `# This file is generated by cmd/codeowners
# People marked here will be automatically requested for a review
# when the code that they own is touched.
# https://github.com/blog/2392-introducing-code-owners
# https://docs.github.com/en/repositories/managing-your-repositorys-settings-and-features/customizing-your-repository/about-code-owners

# Home Assistant Core
setup.cfg @home-assistant/core
/homeassistant/*.py @home-assistant/core
/homeassistant/helpers/ @home-assistant/core
/homeassistant/util/ @home-assistant/core

# Home Assistant Supervisor
build.json @home-assistant/supervisor
/machine/ @home-assistant/supervisor
/rootfs/ @home-assistant/supervisor
/Dockerfile @home-assistant/supervisor

# Other code
/homeassistant/scripts/check_config.py @kellerza

# Integrations`

const individualFiles = `# Individual files
/homeassistant/components/demo/weather.py @fabaff`

const removeCodeowners = `# Remove codeowners from files
/homeassistant/components/*/translations/`

// ErrOutdated is matched by the Problem Validate reports when CODEOWNERS
// differs from the generated content.
var ErrOutdated = errors.New("codeowners: file is not up to date")

// Problem is a single validation finding.
// Domain is empty for repository-wide problems.
type Problem struct {
	Domain  string
	Message string
	Fixable bool
	err     error
}

func (p Problem) Error() string {
	if p.Domain == "" {
		return "[codeowners] " + p.Message
	}
	return fmt.Sprintf("[codeowners] %s: %s", p.Domain, p.Message)
}

func (p Problem) Unwrap() error { return p.err }

// Generate renders the CODEOWNERS content for integrations.
//
// Domains are emitted in sorted order. Integrations without a manifest or
// without owners are skipped. Owners that are not GitHub handles are still
// written but reported as problems.
func Generate(integrations map[string]*Integration, root string) (string, []Problem) {
	parts := []string{header}
	var problems []Problem

	domains := make([]string, 0, len(integrations))
	for domain := range integrations {
		domains = append(domains, domain)
	}
	slices.Sort(domains)

	for _, domain := range domains {
		integration := integrations[domain]
		if integration.Manifest == nil || len(integration.Manifest.Codeowners) == 0 {
			continue
		}
		owners := integration.Manifest.Codeowners

		for _, owner := range owners {
			if !strings.HasPrefix(owner, "@") {
				problems = append(problems, Problem{
					Domain:  domain,
					Message: "Code owners need to be valid GitHub handles.",
				})
			}
		}

		line := strings.Join(owners, " ")
		parts = append(parts, fmt.Sprintf("/homeassistant/components/%s/ %s", domain, line))

		if hasTests(root, domain) {
			parts = append(parts, fmt.Sprintf("/tests/components/%s/ %s", domain, line))
		}
	}

	parts = append(parts, "\n"+individualFiles, "\n"+removeCodeowners)
	return strings.Join(parts, "\n"), problems
}

func hasTests(root, domain string) bool {
	_, err := os.Stat(filepath.Join(root, testsDir, domain, "__init__.py"))
	return err == nil
}

// Validate compares content with the CODEOWNERS file under root.
//
// Surrounding whitespace is ignored. When specific is true only a subset of
// integrations was loaded, so the comparison is skipped.
func Validate(content, root string, specific bool) []Problem {
	if specific {
		return nil
	}

	existing, err := os.ReadFile(filepath.Join(root, ownersFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return []Problem{{Message: fmt.Sprintf("reading %s: %v", ownersFile, err), err: err}}
	}

	if strings.TrimSpace(string(existing)) != strings.TrimSpace(content) {
		return []Problem{{
			Message: "File CODEOWNERS is not up to date. Run codeowners generate",
			Fixable: true,
			err:     ErrOutdated,
		}}
	}
	return nil
}

// Write stores content as the CODEOWNERS file under root.
func Write(content, root string) error {
	path := filepath.Join(root, ownersFile)
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil { //nolint:gosec // CODEOWNERS is a public repository file
		return fmt.Errorf("writing %s: %w", ownersFile, err)
	}
	return nil
}
