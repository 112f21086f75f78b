// Package discovery scans a tools directory tree for script files and
// extracts tool metadata from their comment headers.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"tclmcp/internal/domain"
)

// script extensions picked up by the scanner.
var scriptExtensions = map[string]struct{}{
	".tcl":  {},
	".star": {},
}

// Scanner discovers tools under one root directory laid out as
// bin/, sbin/, docs/ and users/<user>/<package>/.
type Scanner struct {
	root   string
	logger *zap.Logger
}

// NewScanner returns a scanner rooted at dir.
func NewScanner(dir string, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{root: dir, logger: logger.Named("discovery")}
}

// Root returns the scanned directory.
func (s *Scanner) Root() string { return s.root }

// Discover walks the tree and returns every tool found. An I/O error
// aborts the scan; missing subtrees are simply skipped.
func (s *Scanner) Discover() ([]domain.DiscoveredTool, error) {
	var tools []domain.DiscoveredTool

	for _, kind := range []domain.NamespaceKind{domain.KindBin, domain.KindSbin, domain.KindDocs} {
		found, err := s.scanSystemDir(filepath.Join(s.root, string(kind)), kind)
		if err != nil {
			return nil, err
		}
		tools = append(tools, found...)
	}

	found, err := s.scanUserDirs(filepath.Join(s.root, "users"))
	if err != nil {
		return nil, err
	}
	tools = append(tools, found...)

	s.logger.Debug("scan complete", zap.String("root", s.root), zap.Int("tools", len(tools)))
	return tools, nil
}

func (s *Scanner) scanSystemDir(dir string, kind domain.NamespaceKind) ([]domain.DiscoveredTool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.E(domain.CodeDiscovery, "discovery.Discover", "", err)
	}

	var tools []domain.DiscoveredTool
	for _, entry := range entries {
		name, ok := scriptStem(entry)
		if !ok {
			continue
		}
		location := filepath.Join(dir, entry.Name())
		meta, err := readHeader(location)
		if err != nil {
			return nil, err
		}

		var path domain.ToolPath
		switch kind {
		case domain.KindBin:
			path = domain.Bin(name)
		case domain.KindSbin:
			path = domain.Sbin(name)
		default:
			path = domain.Docs(name)
		}
		tools = append(tools, domain.DiscoveredTool{
			Path:         path,
			Description:  meta.description,
			FileLocation: location,
			Parameters:   meta.parameters,
		})
	}
	return tools, nil
}

func (s *Scanner) scanUserDirs(usersDir string) ([]domain.DiscoveredTool, error) {
	userEntries, err := os.ReadDir(usersDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.E(domain.CodeDiscovery, "discovery.Discover", "", err)
	}

	var tools []domain.DiscoveredTool
	for _, userEntry := range userEntries {
		if !userEntry.IsDir() {
			continue
		}
		user := userEntry.Name()
		packageEntries, err := os.ReadDir(filepath.Join(usersDir, user))
		if err != nil {
			return nil, domain.E(domain.CodeDiscovery, "discovery.Discover", "", err)
		}
		for _, packageEntry := range packageEntries {
			if !packageEntry.IsDir() {
				continue
			}
			pkg := packageEntry.Name()
			toolEntries, err := os.ReadDir(filepath.Join(usersDir, user, pkg))
			if err != nil {
				return nil, domain.E(domain.CodeDiscovery, "discovery.Discover", "", err)
			}
			for _, toolEntry := range toolEntries {
				name, ok := scriptStem(toolEntry)
				if !ok {
					continue
				}
				location := filepath.Join(usersDir, user, pkg, toolEntry.Name())
				meta, err := readHeader(location)
				if err != nil {
					return nil, err
				}
				tools = append(tools, domain.DiscoveredTool{
					Path:         domain.UserTool(user, pkg, name, meta.version),
					Description:  meta.description,
					FileLocation: location,
					Parameters:   meta.parameters,
				})
			}
		}
	}
	return tools, nil
}

func scriptStem(entry os.DirEntry) (string, bool) {
	if entry.IsDir() {
		return "", false
	}
	ext := filepath.Ext(entry.Name())
	if _, ok := scriptExtensions[ext]; !ok {
		return "", false
	}
	return strings.TrimSuffix(entry.Name(), ext), true
}

type headerMetadata struct {
	description string
	version     string
	parameters  []domain.ParameterDefinition
}

// readHeader parses the leading contiguous block of '#' comment lines
// of a script file. Parsing stops at the first non-comment line, so
// annotations after the script body starts are ignored.
//
//	# @description Reverse a string
//	# @version 1.0
//	# @param text:string:required Text to reverse
func readHeader(location string) (headerMetadata, error) {
	content, err := os.ReadFile(location)
	if err != nil {
		return headerMetadata{}, domain.E(domain.CodeDiscovery, "discovery.readHeader", "", err)
	}

	var meta headerMetadata
	for _, line := range strings.Split(string(content), "\n") {
		if !strings.HasPrefix(strings.TrimLeft(line, " \t"), "#") {
			break
		}
		comment := strings.TrimSpace(strings.TrimLeft(strings.TrimLeft(line, " \t"), "#"))

		if desc, ok := strings.CutPrefix(comment, "@description "); ok {
			meta.description = desc
		} else if version, ok := strings.CutPrefix(comment, "@version "); ok {
			meta.version = version
		} else if paramLine, ok := strings.CutPrefix(comment, "@param "); ok {
			if param, ok := parseParam(paramLine); ok {
				meta.parameters = append(meta.parameters, param)
			}
		}
	}

	if meta.description == "" {
		meta.description = fmt.Sprintf("Tool from %s", location)
	}
	return meta, nil
}

// parseParam parses "name:type[:required] description".
func parseParam(line string) (domain.ParameterDefinition, bool) {
	def, desc, ok := strings.Cut(line, " ")
	if !ok {
		return domain.ParameterDefinition{}, false
	}
	parts := strings.Split(def, ":")
	if len(parts) < 2 {
		return domain.ParameterDefinition{}, false
	}
	return domain.ParameterDefinition{
		Name:        parts[0],
		TypeName:    parts[1],
		Required:    len(parts) > 2 && parts[2] == "required",
		Description: strings.TrimSpace(desc),
	}, true
}
