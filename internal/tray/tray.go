package tray

import (
	"context"
	_ "embed"
	"errors"
	"log"
	"sync"

	"github.com/getlantern/systray"
	"github.com/google/uuid"

	"github.com/ibeckermayer/post4me/internal/app"
	"github.com/ibeckermayer/post4me/internal/auth"
	"github.com/ibeckermayer/post4me/internal/board"
	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/scheduler"
	"github.com/ibeckermayer/post4me/internal/session"
)

//go:embed icon.png
var iconBytes []byte

// prompter shows confirmations as menu items.
type prompter struct {
	mu      sync.Mutex
	current uuid.UUID
	answer  confirm.Answer

	mMessage, mYes, mNo *systray.MenuItem
}

func (p *prompter) Show(pr confirm.Prompt, answer confirm.Answer) {
	p.mu.Lock()
	p.current = pr.ID
	p.answer = answer
	p.mu.Unlock()

	p.mMessage.SetTitle(promptLabel(pr))
	p.mYes.SetTitle(pr.ConfirmText)
	p.mNo.SetTitle(pr.CancelText)
	p.mMessage.Show()
	p.mYes.Show()
	p.mNo.Show()
}

func (p *prompter) Dismiss(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != id {
		return
	}
	p.clearLocked()
}

func (p *prompter) clearLocked() {
	p.current = uuid.Nil
	p.answer = nil
	p.mMessage.Hide()
	p.mYes.Hide()
	p.mNo.Hide()
}

func (p *prompter) reply(ok bool) {
	p.mu.Lock()
	answer := p.answer
	p.clearLocked()
	p.mu.Unlock()
	if answer != nil {
		answer(ok)
	}
}

// OnReady returns a systray onReady callback that sets up the menu.
func OnReady(a *app.App) func() {
	return func() {
		ctx, cancel := context.WithCancel(context.Background())

		// Set icon (template icon for macOS menu bar styling)
		systray.SetTemplateIcon(iconBytes, iconBytes)
		systray.SetTitle("")
		systray.SetTooltip(tooltip(notifier.Event{}))

		st := a.Session().State()
		mStatus := systray.AddMenuItem(statusLabel(st), "Connection status")
		mStatus.Disable()
		mCounts := systray.AddMenuItem(countsLabel(nil), "Posts on the backend")
		mCounts.Disable()
		mAuthAction := systray.AddMenuItem(authActionLabel(st), "Login or logout from X")

		// Pending confirmation, hidden until the gate shows a prompt
		p := &prompter{
			mMessage: systray.AddMenuItem("", "Confirmation"),
			mYes:     systray.AddMenuItem("Confirm", ""),
			mNo:      systray.AddMenuItem("Cancel", ""),
		}
		p.mMessage.Disable()
		p.mu.Lock()
		p.clearLocked()
		p.mu.Unlock()
		a.Gate().SetPresenter(p)

		systray.AddSeparator()

		mOpenWeb := systray.AddMenuItem("Open post4me", "Open the web interface")
		mRefreshProfile := systray.AddMenuItem("Refresh Profile", "Re-read the X profile")
		mSendDigest := systray.AddMenuItem("Send Digest Now", "Mail the activity digest")
		mExport := systray.AddMenuItem("Export Posts", "Save every post as JSON")

		systray.AddSeparator()

		mEditConfig := systray.AddMenuItem("Edit Config", "Open config file in editor")
		mReloadConfig := systray.AddMenuItem("Reload Config", "Reload configuration from disk")

		systray.AddSeparator()

		mQuit := systray.AddMenuItem("Quit", "Exit post4me")

		// Helper to update auth UI
		a.Session().OnChange(func(st session.State) {
			mStatus.SetTitle(statusLabel(st))
			mAuthAction.SetTitle(authActionLabel(st))
		})

		if _, err := a.ShowView(ctx, board.ViewAll, func(board.View) {
			mCounts.SetTitle(countsLabel(board.Counts(a.Snapshot())))
		}); err != nil {
			log.Printf("Failed to start post refresh: %v", err)
		}
		if err := a.Start(ctx); err != nil {
			log.Printf("Failed to start: %v", err)
		}

		events, unsubscribe := a.Bus().Subscribe(16)

		// Handle menu clicks
		go func() {
			defer unsubscribe()
			for {
				select {
				case e := <-events:
					systray.SetTooltip(tooltip(e))

				case <-p.mYes.ClickedCh:
					p.reply(true)

				case <-p.mNo.ClickedCh:
					p.reply(false)

				case <-mAuthAction.ClickedCh:
					if a.Session().State().Configured == session.Yes {
						go func() {
							if err := a.Logout(ctx); err != nil && !errors.Is(err, auth.ErrCancelled) {
								log.Printf("Logout error: %v", err)
							}
						}()
						continue
					}
					// Credentials are entered in the web UI; wait for the
					// backend to report the linked account.
					if err := a.OpenWebUI(); err != nil {
						log.Printf("Failed to open web UI: %v", err)
						continue
					}
					go func() {
						if _, err := a.Auth().WaitForLink(ctx, 0, 0); err != nil {
							log.Printf("Login error: %v", err)
						}
						if err := a.Session().Check(ctx); err != nil {
							log.Printf("Status check failed: %v", err)
						}
					}()

				case <-mOpenWeb.ClickedCh:
					if err := a.OpenWebUI(); err != nil {
						log.Printf("Failed to open web UI: %v", err)
					}

				case <-mRefreshProfile.ClickedCh:
					go func() {
						if err := a.Scheduler().RunNow(ctx, scheduler.JobProfileRefresh, a.RefreshProfile); err != nil {
							log.Printf("Refresh profile error: %v", err)
						}
					}()

				case <-mSendDigest.ClickedCh:
					go func() {
						if err := a.Scheduler().RunNow(ctx, scheduler.JobDigest, a.SendDigest); err != nil {
							log.Printf("Send digest error: %v", err)
							a.Bus().Error(0, "Digest not sent: "+err.Error())
						}
					}()

				case <-mExport.ClickedCh:
					go func() {
						path, err := a.ExportPosts(ctx)
						if err != nil {
							log.Printf("Export error: %v", err)
							return
						}
						a.Bus().Success(0, "Exported to "+path)
					}()

				case <-mEditConfig.ClickedCh:
					if err := a.OpenConfig(); err != nil {
						log.Printf("Failed to open config file: %v", err)
					}

				case <-mReloadConfig.ClickedCh:
					if err := a.ReloadConfig(); err != nil {
						log.Printf("Failed to reload config: %v", err)
					}

				case <-mQuit.ClickedCh:
					cancel()
					a.Close()
					systray.Quit()
					return
				}
			}
		}()
	}
}

// OnExit is the systray onExit callback.
func OnExit() {
	log.Println("post4me shutting down...")
}
