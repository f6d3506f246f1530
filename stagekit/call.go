package stagekit

import (
	"context"
	"os/exec"
)

// CallInput is the argument struct for the built-in shell-command stage,
// Go's equivalent of wrapper.py's `@stage async def call(cmd, cwd=None)`.
type CallInput struct {
	Cmd string
	Cwd string
}

// callStage runs a shell command through /bin/sh -c, the same
// create_subprocess_shell semantics the original built-in call stage uses.
var callStage = New(func(ctx context.Context, in CallInput) (struct{}, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", in.Cmd)
	if in.Cwd != "" {
		cmd.Dir = in.Cwd
	}
	return struct{}{}, cmd.Run()
}, Policy[CallInput]{
	Rerun: RerunNever,
	Name:  func(in CallInput) string { return in.Cmd },
})

// Call runs cmd as a shell command in cwd (relative to the running stage's
// working directory when empty), recorded as a stage the same way
// Directory.call delegates to the built-in `call` stage.
func Call(ctx context.Context, cmd string, cwd string) error {
	if cwd == "" {
		cwd = Cwd(ctx)
	}
	_, err := callStage.Call(ctx, CallInput{Cmd: cmd, Cwd: cwd})
	return err
}

func init() {
	Register("stagekit.call", func(ctx context.Context, in CallInput) (struct{}, error) {
		cmd := exec.CommandContext(ctx, "sh", "-c", in.Cmd)
		if in.Cwd != "" {
			cmd.Dir = in.Cwd
		}
		return struct{}{}, cmd.Run()
	})
}
