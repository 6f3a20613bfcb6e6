package resolver

import (
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"tsxkit/pkg/descriptor"
	"tsxkit/pkg/errors"
	"tsxkit/pkg/host"
)

// DefaultCDNOrigin is the public module CDN used for bare specifiers with no
// local installation.
const DefaultCDNOrigin = "https://esm.sh"

// Extensions is the fixed fallback order tried for extensionless relative
// specifiers, and for index probing inside directories.
var Extensions = []string{".ts", ".tsx", ".js", ".mjs", ".cjs", ".json"}

// Context carries the state one resolution call depends on: the location of
// the importing module and the call mode (import vs require). It is created
// per call and never persisted.
type Context struct {
	Base Location
	Mode descriptor.Mode
}

// Resolver canonicalizes specifiers against a sandboxed file store and a
// shared manifest cache. It performs no I/O beyond manifest and existence
// lookups through the host interfaces it was handed.
type Resolver struct {
	fs        host.FileStore
	manifests *descriptor.Cache
	cdnOrigin string
	log       zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCDNOrigin overrides the CDN origin used for bare-specifier fallback.
func WithCDNOrigin(origin string) Option {
	return func(r *Resolver) { r.cdnOrigin = strings.TrimSuffix(origin, "/") }
}

// WithLogger attaches a logger; resolution decisions are logged at Debug.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// New creates a Resolver over the given file store and manifest cache.
func New(fs host.FileStore, manifests *descriptor.Cache, opts ...Option) *Resolver {
	r := &Resolver{
		fs:        fs,
		manifests: manifests,
		cdnOrigin: DefaultCDNOrigin,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve canonicalizes a specifier. Resolution order, first match wins:
//
//  1. absolute http(s) URL: passed through verbatim
//  2. file:// specifier or base: converted to a local path
//  3. relative path: against the importing module's directory, with
//     extension and index fallback
//  4. root-relative path: re-anchored at the CDN origin when the base is a
//     CDN URL, otherwise a local absolute path
//  5. #alias: the nearest enclosing manifest's imports map
//  6. bare specifier: builtins, then the local dependency tree
//  7. bare specifier with no local match: CDN fallback
func (r *Resolver) Resolve(specifier string, ctx Context) (Location, error) {
	loc, err := r.resolve(specifier, ctx)
	if err != nil {
		r.log.Debug().Str("specifier", specifier).Str("base", string(ctx.Base)).Err(err).Msg("resolution failed")
		return "", err
	}
	r.log.Debug().Str("specifier", specifier).Str("base", string(ctx.Base)).Str("location", string(loc)).Msg("resolved")
	return loc, nil
}

func (r *Resolver) resolve(specifier string, ctx Context) (Location, error) {
	// 1. Absolute http(s) URL: protocol, host, path, and query preserved.
	if strings.HasPrefix(specifier, "https://") || strings.HasPrefix(specifier, "http://") {
		return Location(specifier), nil
	}

	// 2. file:// specifier: converted to a local path.
	if strings.HasPrefix(specifier, "file://") {
		p, ok := FileURLToPath(specifier)
		if !ok {
			return "", r.notFound(specifier, ctx, "malformed file URL")
		}
		return r.probeFile(p, specifier, ctx)
	}

	// 3. Relative path.
	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		return r.resolveRelative(specifier, ctx)
	}

	// 4. Root-relative path.
	if strings.HasPrefix(specifier, "/") {
		if ctx.Base.IsHTTP() && ctx.Base.Origin() == r.cdnOrigin {
			return Location(r.cdnOrigin + specifier), nil
		}
		return r.probeFile(specifier, specifier, ctx)
	}

	// 5. Package-internal import alias.
	if strings.HasPrefix(specifier, "#") {
		return r.resolveImportAlias(specifier, ctx)
	}

	// 6a. Node builtin.
	if IsBuiltinSpecifier(specifier) {
		return builtinLocation(specifier), nil
	}

	// 6b. Bare specifier into the local dependency tree.
	if loc, ok, err := r.resolveNodeModules(specifier, ctx); err != nil || ok {
		return loc, err
	}

	// 7. CDN fallback; a name@version qualifier passes through verbatim.
	return Location(r.cdnOrigin + "/" + specifier), nil
}

func (r *Resolver) resolveRelative(specifier string, ctx Context) (Location, error) {
	base := ctx.Base

	// HTTP bases join by URL reference semantics.
	if base.IsHTTP() {
		bu, err := url.Parse(string(base))
		if err != nil {
			return "", r.notFound(specifier, ctx, "unparseable base URL")
		}
		ref, err := url.Parse(specifier)
		if err != nil {
			return "", r.notFound(specifier, ctx, "unparseable specifier")
		}
		return Location(bu.ResolveReference(ref).String()), nil
	}

	// file:// bases resolve to percent-decoded local paths.
	baseDir := ""
	if base.IsFileURL() {
		p, ok := FileURLToPath(string(base))
		if !ok {
			return "", r.notFound(specifier, ctx, "malformed file URL base")
		}
		baseDir = path.Dir(p)
	} else if base != "" {
		baseDir = base.Dir()
	}

	target := path.Join(baseDir, specifier)
	return r.probeFile(target, specifier, ctx)
}

// probeFile resolves a local path with extension and index fallback:
// the exact path first, then each extension candidate in the fixed order,
// then index files inside a directory in the same order.
func (r *Resolver) probeFile(target, specifier string, ctx Context) (Location, error) {
	target = path.Clean(target)

	if info, err := r.fs.Stat(target); err == nil {
		if !info.IsDir {
			return Location(target), nil
		}
		for _, ext := range Extensions {
			candidate := path.Join(target, "index"+ext)
			if r.isFile(candidate) {
				return Location(candidate), nil
			}
		}
		return "", r.notFound(specifier, ctx, "directory has no index file")
	}

	for _, ext := range Extensions {
		if r.isFile(target + ext) {
			return Location(target + ext), nil
		}
	}

	// TypeScript convention: sources import "./x.js" while "./x.ts" is on disk.
	if stem, ok := strings.CutSuffix(target, ".js"); ok {
		for _, ext := range []string{".ts", ".tsx"} {
			if r.isFile(stem + ext) {
				return Location(stem + ext), nil
			}
		}
	}

	return "", r.notFound(specifier, ctx, "no such file")
}

func (r *Resolver) resolveImportAlias(specifier string, ctx Context) (Location, error) {
	pkgDir, desc, ok := r.nearestManifest(ctx.Base)
	if !ok || desc == nil {
		return "", r.notFound(specifier, ctx, "no enclosing package manifest")
	}
	target, err := desc.ResolveImport(specifier, ctx.Mode)
	if err != nil {
		return "", r.wrapEvalError(err, specifier, ctx)
	}
	// The target resolves again from the package root.
	return r.resolve(target, Context{
		Base: Location(path.Join(pkgDir, "package.json")),
		Mode: ctx.Mode,
	})
}

// resolveNodeModules searches upward from the importing module's directory
// for a node_modules directory containing the named package.
func (r *Resolver) resolveNodeModules(specifier string, ctx Context) (Location, bool, error) {
	pkgName, subpath := splitPackageSpecifier(specifier)
	if pkgName == "" {
		return "", false, nil
	}

	for dir := r.baseDir(ctx.Base); ; dir = path.Dir(dir) {
		pkgDir := path.Join(dir, "node_modules", pkgName)
		if info, err := r.fs.Stat(pkgDir); err == nil && info.IsDir {
			loc, err := r.resolvePackageSubpath(pkgDir, subpath, specifier, ctx)
			return loc, true, err
		}
		if dir == "/" || dir == "." || dir == "" {
			return "", false, nil
		}
	}
}

func (r *Resolver) resolvePackageSubpath(pkgDir, subpath, specifier string, ctx Context) (Location, error) {
	desc, found, err := r.manifests.Load(pkgDir)
	if err != nil {
		return "", &errors.ResolutionError{
			Reason:    errors.InvalidPackageMap,
			Specifier: specifier,
			Base:      string(ctx.Base),
			Mode:      string(ctx.Mode),
			Msg:       "broken package manifest",
			Cause:     err,
		}
	}

	if found && desc.Exports != nil {
		target, err := desc.ResolveExport(subpath, ctx.Mode)
		if err != nil {
			return "", r.wrapEvalError(err, specifier, ctx)
		}
		if !strings.HasPrefix(target, "./") {
			return "", &errors.ResolutionError{
				Reason:    errors.InvalidPackageMap,
				Specifier: specifier,
				Base:      string(ctx.Base),
				Mode:      string(ctx.Mode),
				Msg:       "exports target must be package-relative, got " + target,
			}
		}
		return Location(path.Join(pkgDir, target)), nil
	}

	// Legacy resolution: explicit subpath, then the main field, then index.
	if subpath != "." {
		return r.probeFile(path.Join(pkgDir, subpath), specifier, ctx)
	}
	if found && desc.Main != "" {
		return r.probeFile(path.Join(pkgDir, desc.Main), specifier, ctx)
	}
	return r.probeFile(pkgDir, specifier, ctx)
}

// nearestManifest walks upward from the base location's directory looking
// for the closest directory holding a package.json.
func (r *Resolver) nearestManifest(base Location) (string, *descriptor.Descriptor, bool) {
	for dir := r.baseDir(base); ; dir = path.Dir(dir) {
		desc, found, err := r.manifests.Load(dir)
		if err == nil && found {
			return dir, desc, true
		}
		if dir == "/" || dir == "." || dir == "" {
			return "", nil, false
		}
	}
}

func (r *Resolver) baseDir(base Location) string {
	if base == "" {
		return "."
	}
	if base.IsFileURL() {
		if p, ok := FileURLToPath(string(base)); ok {
			return path.Dir(p)
		}
	}
	return base.Dir()
}

func (r *Resolver) isFile(p string) bool {
	info, err := r.fs.Stat(p)
	return err == nil && !info.IsDir
}

func (r *Resolver) notFound(specifier string, ctx Context, msg string) error {
	return &errors.ResolutionError{
		Reason:    errors.NotFound,
		Specifier: specifier,
		Base:      string(ctx.Base),
		Mode:      string(ctx.Mode),
		Msg:       msg,
	}
}

func (r *Resolver) wrapEvalError(err error, specifier string, ctx Context) error {
	if evalErr, ok := err.(*descriptor.EvalError); ok {
		return &errors.ResolutionError{
			Reason:    evalErr.Reason,
			Specifier: specifier,
			Base:      string(ctx.Base),
			Mode:      string(ctx.Mode),
			Msg:       evalErr.Msg,
			Cause:     err,
		}
	}
	return err
}

// splitPackageSpecifier splits a bare specifier into its package name and
// exports subpath. Scoped names keep both segments: "@scope/pkg/sub" yields
// ("@scope/pkg", "./sub").
func splitPackageSpecifier(specifier string) (name, subpath string) {
	if specifier == "" {
		return "", ""
	}
	parts := strings.Split(specifier, "/")
	nameParts := 1
	if strings.HasPrefix(specifier, "@") {
		if len(parts) < 2 {
			return "", ""
		}
		nameParts = 2
	}
	name = strings.Join(parts[:nameParts], "/")
	// A CDN version qualifier is not part of the on-disk package name.
	if i := strings.LastIndex(name, "@"); i > 0 {
		name = name[:i]
	}
	if len(parts) > nameParts {
		subpath = "./" + strings.Join(parts[nameParts:], "/")
	} else {
		subpath = "."
	}
	return name, subpath
}
