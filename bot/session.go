package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/socialbot/browser"
	"github.com/hazyhaar/socialbot/captcha"
	"github.com/hazyhaar/socialbot/human"
	"github.com/hazyhaar/socialbot/internal/config"
	"github.com/hazyhaar/socialbot/platform"
	"github.com/hazyhaar/socialbot/registry"
)

// errBudgetExhausted ends the engagement phase early. It is not a failure.
var errBudgetExhausted = errors.New("bot: action budget exhausted")

// budget counts likes, follows and target visits on one platform.
type budget struct {
	limit int
	spent int
}

func newBudget(limit int) *budget { return &budget{limit: limit} }

func (b *budget) remaining() int {
	if b.limit <= 0 {
		return 1 << 30
	}
	return b.limit - b.spent
}

// check fails once nothing is left.
func (b *budget) check() error {
	if b.remaining() <= 0 {
		return errBudgetExhausted
	}
	return nil
}

// session is one platform turn.
type session struct {
	r      *Runner
	key    string
	pc     platform.Config
	page   browser.Page
	mon    *captcha.Monitor
	budget *budget
}

func (s *session) run(ctx context.Context) error {
	if err := s.login(ctx); err != nil {
		return err
	}
	if err := s.awaitClear(ctx); err != nil {
		return err
	}
	if s.pc.ExtraHomeNavigate {
		if err := s.page.Navigate(ctx, s.pc.HomeURL); err != nil {
			return fmt.Errorf("navigate home: %w", err)
		}
		if err := s.awaitClear(ctx); err != nil {
			return err
		}
	}

	err := s.engage(ctx)
	if errors.Is(err, errBudgetExhausted) {
		s.r.logger.Info("bot: action budget exhausted", "platform", s.pc.Name, "actions", s.budget.spent)
		return nil
	}
	return err
}

// awaitClear blocks while the monitor holds a pause. A synchronous check
// runs first so a challenge reached by the previous action is seen here
// rather than one poll later. On a resolution timeout the configured
// policy either escalates or keeps waiting.
func (s *session) awaitClear(ctx context.Context) error {
	if err := s.mon.Check(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, captcha.ErrMonitorDisabled) {
		s.r.logger.Debug("bot: captcha check", "platform", s.pc.Name, "error", err)
	}
	for {
		err := s.mon.AwaitClear(ctx)
		if !errors.Is(err, captcha.ErrResolutionTimeout) {
			return err
		}
		if s.r.cfg.Timing.OnCaptchaTimeout != config.OnTimeoutWait {
			return fmt.Errorf("%w: %w", ErrStopBot, err)
		}
		s.r.logger.Warn("bot: captcha still unresolved, waiting for manual action", "platform", s.pc.Name)
	}
}

func (s *session) login(ctx context.Context) error {
	if err := s.page.Navigate(ctx, s.pc.LoginURL); err != nil {
		return fmt.Errorf("navigate login: %w", err)
	}
	if s.pc.UsernameSelector == "" {
		return nil
	}

	user, err := browser.WaitElement(ctx, s.page, s.pc.UsernameSelector, browser.Retry{Attempts: 2, Delay: s.r.retry.Delay})
	if errors.Is(err, browser.ErrElementNotFound) {
		s.r.logger.Info("bot: no login form, session reused", "platform", s.pc.Name)
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.fill(ctx, user, s.r.account.Username); err != nil {
		return fmt.Errorf("username: %w", err)
	}

	if s.pc.PasswordSelector != "" {
		pw, err := browser.WaitElement(ctx, s.page, s.pc.PasswordSelector, s.r.retry)
		if err != nil {
			return fmt.Errorf("password field: %w", err)
		}
		if err := s.fill(ctx, pw, s.r.account.Password); err != nil {
			return fmt.Errorf("password: %w", err)
		}
	}

	if s.pc.SigninButtonSelector != "" {
		btn, err := browser.WaitElement(ctx, s.page, s.pc.SigninButtonSelector, s.r.retry)
		if err != nil {
			return fmt.Errorf("sign-in button: %w", err)
		}
		if err := s.r.sleeper.Between(ctx, 500*time.Millisecond, 1500*time.Millisecond); err != nil {
			return err
		}
		from, err := s.page.CurrentURL(ctx)
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		if err := btn.Click(ctx); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		s.r.logger.Info("bot: credentials submitted", "platform", s.pc.Name)
		return s.awaitSubmit(ctx, from)
	}
	s.r.logger.Info("bot: credentials submitted", "platform", s.pc.Name)
	return nil
}

// awaitSubmit waits for the sign-in click to leave the login page. A form
// that stays put (wrong password, inline challenge) is left to the monitor.
func (s *session) awaitSubmit(ctx context.Context, from string) error {
	u, err := browser.WaitURLChange(ctx, s.page, from, s.r.retry)
	switch {
	case errors.Is(err, browser.ErrNoNavigation):
		s.r.logger.Warn("bot: sign-in did not navigate", "platform", s.pc.Name, "url", from)
		return nil
	case err != nil:
		return err
	}
	s.r.logger.Debug("bot: signed in", "platform", s.pc.Name, "url", u)
	return nil
}

func (s *session) fill(ctx context.Context, el browser.Element, text string) error {
	if err := el.Click(ctx); err != nil {
		return err
	}
	if err := el.Focus(ctx); err != nil {
		return err
	}
	if err := s.r.sleeper.Between(ctx, 200*time.Millisecond, 600*time.Millisecond); err != nil {
		return err
	}
	return s.r.typist.Type(ctx, s.page, text)
}

func (s *session) engage(ctx context.Context) error {
	if u, err := s.page.CurrentURL(ctx); err != nil || u != s.pc.HomeURL {
		if err := s.page.Navigate(ctx, s.pc.HomeURL); err != nil {
			return fmt.Errorf("navigate home: %w", err)
		}
		if err := s.awaitClear(ctx); err != nil {
			return err
		}
	}

	if err := s.scroll(ctx, s.r.cfg.BurstPolicy()); err != nil {
		return err
	}
	if err := s.likePosts(ctx); err != nil {
		return err
	}
	if s.pc.FollowSelector != "" && s.r.sleeper.Chance(s.r.cfg.Engagement.FollowProbability) {
		if err := s.follow(ctx); err != nil {
			return err
		}
	}
	return s.visitTargets(ctx)
}

func (s *session) scroll(ctx context.Context, p human.BurstPolicy) error {
	if err := s.awaitClear(ctx); err != nil {
		return err
	}
	n, err := s.r.sleeper.Bursts(ctx, s.page, p)
	if err != nil {
		return err
	}
	s.r.logger.Debug("bot: scrolled", "platform", s.pc.Name, "scrolls", n)
	return s.awaitClear(ctx)
}

// likePosts shuffles the like buttons on the page and likes the first few,
// reading each post before the click.
func (s *session) likePosts(ctx context.Context) error {
	if s.pc.PostLikeSelector == "" {
		return nil
	}
	buttons, err := s.page.FindElements(ctx, s.pc.PostLikeSelector)
	if err != nil {
		return fmt.Errorf("find like buttons: %w", err)
	}
	s.r.sleeper.Shuffle(len(buttons), func(i, j int) { buttons[i], buttons[j] = buttons[j], buttons[i] })

	n := min(s.r.cfg.Engagement.MaxLikes, len(buttons))
	for i := 0; i < n; i++ {
		if err := s.awaitClear(ctx); err != nil {
			return err
		}
		if err := s.budget.check(); err != nil {
			return err
		}
		btn := buttons[i]
		if err := btn.ScrollIntoView(ctx); err != nil {
			s.r.logger.Warn("bot: scroll to post", "platform", s.pc.Name, "error", err)
			continue
		}
		if err := s.r.sleeper.In(ctx, s.r.cfg.Timing.LikeReadDelay); err != nil {
			return err
		}
		if err := btn.Click(ctx); err != nil {
			s.r.logger.Warn("bot: like click", "platform", s.pc.Name, "error", err)
			continue
		}
		s.budget.spent++
		s.pickReaction(ctx)
		s.r.logger.Info("Liked post", "platform", s.pc.Name, "n", i+1)
		if err := s.r.sleeper.In(ctx, s.r.cfg.Timing.LikeCooldown); err != nil {
			return err
		}
	}
	return nil
}

// pickReaction handles platforms whose like button opens a reaction menu
// instead of liking directly: the first reaction is chosen.
func (s *session) pickReaction(ctx context.Context) {
	if s.pc.ReactionMenuSelector == "" {
		return
	}
	menu, err := s.page.FindElements(ctx, s.pc.ReactionMenuSelector+" button")
	if err != nil || len(menu) == 0 {
		return
	}
	if err := menu[0].Click(ctx); err != nil {
		s.r.logger.Debug("bot: reaction click", "platform", s.pc.Name, "error", err)
	}
}

func (s *session) follow(ctx context.Context) error {
	buttons, err := s.page.FindElements(ctx, s.pc.FollowSelector)
	if err != nil || len(buttons) == 0 {
		return err
	}
	if err := s.awaitClear(ctx); err != nil {
		return err
	}
	if err := s.budget.check(); err != nil {
		return err
	}
	btn := buttons[s.r.sleeper.IntBetween(0, len(buttons)-1)]
	if err := btn.ScrollIntoView(ctx); err != nil {
		return fmt.Errorf("scroll to follow: %w", err)
	}
	if err := s.r.sleeper.In(ctx, s.r.cfg.Timing.LikeReadDelay); err != nil {
		return err
	}
	if err := btn.Click(ctx); err != nil {
		return fmt.Errorf("follow: %w", err)
	}
	s.budget.spent++
	s.r.logger.Info("bot: followed", "platform", s.pc.Name)
	return s.r.sleeper.In(ctx, s.r.cfg.Timing.LikeCooldown)
}

func (s *session) platformTargets() []registry.Target {
	var out []registry.Target
	for _, t := range s.r.targets {
		if t.Platform == "" || strings.EqualFold(t.Platform, s.key) || strings.EqualFold(t.Platform, s.pc.Name) {
			out = append(out, t)
		}
	}
	return out
}

// visitTargets visits a shuffled subset of the configured targets, found
// through the platform search when it has one.
func (s *session) visitTargets(ctx context.Context) error {
	targets := s.platformTargets()
	s.r.sleeper.Shuffle(len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })
	if limit := s.r.cfg.Engagement.MaxTargetsPerPass; limit > 0 && len(targets) > limit {
		targets = targets[:limit]
	}

	visit := s.r.cfg.BurstPolicy()
	visit.Bursts = [2]int{1, 2}

	for _, t := range targets {
		if err := s.awaitClear(ctx); err != nil {
			return err
		}
		if err := s.budget.check(); err != nil {
			return err
		}
		found, err := s.openTarget(ctx, t)
		if err != nil {
			return err
		}
		if !found {
			s.r.logger.Warn("bot: target not found", "platform", s.pc.Name, "target", t.Name)
			continue
		}
		s.budget.spent++
		if err := s.scroll(ctx, visit); err != nil {
			return err
		}
		s.r.logger.Info("bot: visited target", "platform", s.pc.Name, "target", t.Name)
	}
	return nil
}

// openTarget lands on t. With a search template the result whose link
// equals the target URL is clicked; otherwise the URL is opened directly.
func (s *session) openTarget(ctx context.Context, t registry.Target) (bool, error) {
	search := s.pc.SearchURLFor(t.Name)
	if search == "" || s.pc.SearchResultSelector == "" {
		if err := s.page.Navigate(ctx, t.URL); err != nil {
			return false, fmt.Errorf("navigate target: %w", err)
		}
		return true, s.awaitClear(ctx)
	}

	if err := s.page.Navigate(ctx, search); err != nil {
		return false, fmt.Errorf("navigate search: %w", err)
	}
	if err := s.awaitClear(ctx); err != nil {
		return false, err
	}
	if err := s.r.sleeper.In(ctx, s.r.cfg.Timing.LikeCooldown); err != nil {
		return false, err
	}

	results, err := s.page.FindElements(ctx, s.pc.SearchResultSelector)
	if err != nil {
		return false, fmt.Errorf("search results: %w", err)
	}
	for _, el := range results {
		href, ok, err := el.Attribute(ctx, "href")
		if err != nil || !ok {
			continue
		}
		if !SameTarget(resolveRef(search, href), t.URL) {
			continue
		}
		if err := el.ScrollIntoView(ctx); err != nil {
			return false, fmt.Errorf("scroll to result: %w", err)
		}
		if err := el.Click(ctx); err != nil {
			return false, fmt.Errorf("open result: %w", err)
		}
		return true, s.awaitClear(ctx)
	}
	return false, nil
}

// SameTarget reports whether a resolved search result link is the
// configured target URL. The comparison is exact apart from a trailing
// slash: query strings can identify distinct entities.
func SameTarget(link, target string) bool {
	return strings.TrimSuffix(link, "/") == strings.TrimSuffix(target, "/")
}

func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
