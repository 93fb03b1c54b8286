package installer

import (
	"fmt"
	"regexp"
)

// Policy decides what a failed step does to the rest of the install.
type Policy int

const (
	// Fatal aborts the installer; nothing after the step runs.
	Fatal Policy = iota
	// BestEffort logs a warning and continues.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best_effort"
	}
	return "fatal"
}

// Step is one installer action. Body is POSIX sh run as a function body; a
// non-zero status is a failure. Bodies read the variables the script header
// defines: ARTIFACT, TARGET, EXEC_DIR, SCRATCH, BUNDLE, PROCESS, MANIFEST,
// RELAUNCH_FLAG, SIGN_ID and TERMINATE_WAIT.
type Step struct {
	Name   string
	Policy Policy
	Body   string
}

var stepName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateSteps checks names and bodies before rendering.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("installer has no steps")
	}
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if !stepName.MatchString(s.Name) {
			return fmt.Errorf("invalid step name %q", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate step %q", s.Name)
		}
		seen[s.Name] = true
		if s.Body == "" {
			return fmt.Errorf("step %q has an empty body", s.Name)
		}
	}
	return nil
}

// DefaultSteps is the install sequence for an application bundle.
func DefaultSteps() []Step {
	return []Step{
		{Name: "resolve_artifact", Policy: Fatal, Body: resolveArtifact},
		{Name: "verify_artifact", Policy: Fatal, Body: verifyArtifact},
		{Name: "acknowledge", Policy: BestEffort, Body: Acknowledge},
		{Name: "prepare_scratch", Policy: Fatal, Body: `rm -rf "$SCRATCH" && mkdir -p "$SCRATCH"`},
		{Name: "extract", Policy: Fatal, Body: extract},
		{Name: "locate_bundle", Policy: Fatal, Body: locateBundle},
		{Name: "verify_bundle", Policy: Fatal, Body: `[ -d "$BUNDLE/$EXEC_DIR" ] || { log "bundle has no $EXEC_DIR"; return 1; }`},
		{Name: "terminate_running", Policy: BestEffort, Body: terminateRunning},
		{Name: "replace_bundle", Policy: Fatal, Body: replaceBundle},
		{Name: "fix_permissions", Policy: BestEffort, Body: `chmod -R u+rwX,go+rX "$TARGET" && chmod +x "$TARGET/$EXEC_DIR"/*`},
		{Name: "clear_quarantine", Policy: BestEffort, Body: `xattr -dr com.apple.quarantine "$TARGET"`},
		{Name: "codesign", Policy: BestEffort, Body: `codesign --force --deep --sign "$SIGN_ID" "$TARGET"`},
		{Name: "verify_installed", Policy: Fatal, Body: `[ -d "$TARGET/$EXEC_DIR" ] || { log "installed bundle is incomplete"; return 1; }`},
		{Name: "cleanup", Policy: BestEffort, Body: cleanup},
		{Name: "relaunch", Policy: BestEffort, Body: relaunch},
	}
}

const resolveArtifact = `for candidate in "$ARTIFACT" "/private$ARTIFACT" "${ARTIFACT#/private}" "${TMPDIR:-/tmp}/$(basename "$ARTIFACT")"; do
    if [ -f "$candidate" ]; then
        ARTIFACT="$candidate"
        log "artifact resolved to $ARTIFACT"
        return 0
    fi
done
log "artifact not found at $ARTIFACT"
return 1`

const verifyArtifact = `if [ ! -s "$ARTIFACT" ]; then
    log "artifact is missing or empty"
    return 1
fi
log "artifact size $(wc -c <"$ARTIFACT" | tr -d ' ') bytes"`

// Acknowledge holds the artifact open on fd 4 and tells the parent on fd 3
// that it may exit.
const Acknowledge = `if [ -r "$ARTIFACT" ]; then
    exec 4<"$ARTIFACT"
fi
echo ready >&3
exec 3>&-`

const extract = `if command -v ditto >/dev/null 2>&1; then
    ditto -x -k "$ARTIFACT" "$SCRATCH"
else
    unzip -q -o "$ARTIFACT" -d "$SCRATCH"
fi`

const locateBundle = `count=0
for candidate in "$SCRATCH"/*.app "$SCRATCH"/*/*.app; do
    [ -d "$candidate" ] || continue
    case "$candidate" in
        "$SCRATCH"/__MACOSX/*) continue ;;
    esac
    BUNDLE="$candidate"
    count=$((count + 1))
done
if [ "$count" -ne 1 ]; then
    log "expected exactly one application bundle, found $count"
    return 1
fi
log "bundle located at $BUNDLE"`

const terminateRunning = `if pkill -x "$PROCESS"; then
    log "signalled running $PROCESS"
else
    log "no running $PROCESS found"
fi
sleep "$TERMINATE_WAIT"`

const replaceBundle = `if [ -e "$TARGET" ]; then
    rm -rf "$TARGET" || return 1
fi
mkdir -p "$(dirname "$TARGET")" || return 1
if command -v ditto >/dev/null 2>&1; then
    ditto "$BUNDLE" "$TARGET"
else
    cp -R "$BUNDLE" "$TARGET"
fi`

const cleanup = `exec 4<&-
rm -rf "$SCRATCH"
rm -f "$ARTIFACT" "$MANIFEST"`

const relaunch = `if [ "$(uname -s)" = "Darwin" ]; then
    open "$TARGET" --args "$RELAUNCH_FLAG"
else
    nohup "$TARGET/$EXEC_DIR/$PROCESS" "$RELAUNCH_FLAG" >/dev/null 2>&1 &
fi`
