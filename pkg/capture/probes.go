package capture

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grovetools/meetbot/pkg/surface"
)

// findElement resolves a CSS or XPath selector inside page scripts.
const findElement = `const find = (s) => s.startsWith('//')
  ? document.evaluate(s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
  : document.querySelector(s);
const visible = (el) => !!el && (el.offsetParent !== null || el.getClientRects().length > 0);`

const bodyTextExpr = `document.body ? document.body.innerText : ""`

// participantsExpr tries several heuristics in order and yields a count or null.
const participantsExpr = `(() => {
  const digits = /^[0-9]+$/;
  const labelled = Array.from(document.querySelectorAll('button[aria-label]'));
  const findPeopleButton = () =>
    document.querySelector('button[aria-label^="People"]') ||
    document.querySelector('button[aria-label*="People"]') ||
    document.querySelector('button[aria-label*="Участники"]') ||
    labelled.find((b) => /^People - \d+ joined$/.test(b.getAttribute('aria-label') || '')) ||
    labelled.find((b) => Array.from(b.querySelectorAll('i')).some((i) => (i.textContent || '').trim() === 'people')) ||
    null;
  try {
    const btn = findPeopleButton();
    if (btn) {
      const match = (btn.getAttribute('aria-label') || '').match(/(\d+)/);
      const scope = btn.parentNode && btn.parentNode.parentNode;
      if (scope) {
        for (const node of Array.from(scope.querySelectorAll('div'))) {
          const text = (node.innerText || '').trim();
          if (digits.test(text)) {
            return Number(text);
          }
        }
      }
      if (match) {
        return Number(match[1]);
      }
    }
  } catch (err) {
    console.log('Participant count lookup failed', err && err.message);
  }
  const tiles = document.querySelectorAll('[data-testid="participant-tile"]');
  if (tiles.length > 0) {
    return tiles.length;
  }
  return null;
})()`

// dismissResult is what dismissExpr yields.
type dismissResult struct {
	Clicked   int    `json:"clicked"`
	Errors    int    `json:"errors"`
	LastError string `json:"lastError"`
}

const dismissExpr = `((labels) => {
  const out = { clicked: 0, errors: 0, lastError: '' };
  const buttons = Array.from(document.querySelectorAll('button, [role="button"]'));
  for (const button of buttons) {
    const text = (button.textContent || button.getAttribute('aria-label') || '').trim();
    if (!text || !labels.some((l) => text.includes(l))) {
      continue;
    }
    if (button.offsetParent === null) {
      continue;
    }
    try {
      button.click();
      out.clicked++;
    } catch (err) {
      out.errors++;
      out.lastError = String(err && err.message || err);
    }
  }
  return out;
})(%s)`

// PageProbe answers watchdog and admission questions by evaluating scripts on the surface.
type PageProbe struct {
	Surface surface.Surface
}

// CurrentURL returns the page location.
func (p *PageProbe) CurrentURL(ctx context.Context) (string, error) {
	return p.Surface.CurrentURL(ctx)
}

// BodyText returns the visible text of the page.
func (p *PageProbe) BodyText(ctx context.Context) (string, error) {
	var text string
	if err := p.Surface.Evaluate(ctx, bodyTextExpr, &text); err != nil {
		return "", err
	}
	return text, nil
}

func (p *PageProbe) matchSelectors(ctx context.Context, selectors []string, requireVisible bool) (bool, error) {
	raw, err := json.Marshal(selectors)
	if err != nil {
		return false, err
	}
	check := "!!find(s)"
	if requireVisible {
		check = "visible(find(s))"
	}
	expr := fmt.Sprintf("((sels) => { %s\n return sels.some((s) => { try { return %s; } catch (e) { return false; } }); })(%s)",
		findElement, check, raw)
	var ok bool
	if err := p.Surface.Evaluate(ctx, expr, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ContentVisible reports whether any selector matches a visible element.
func (p *PageProbe) ContentVisible(ctx context.Context, selectors []string) (bool, error) {
	return p.matchSelectors(ctx, selectors, true)
}

// AnyPresent reports whether any selector matches an element.
func (p *PageProbe) AnyPresent(ctx context.Context, selectors []string) (bool, error) {
	return p.matchSelectors(ctx, selectors, false)
}

// HasAudio reports whether the running recorder captured an audio track.
func (p *PageProbe) HasAudio(ctx context.Context) (bool, error) {
	var has bool
	err := p.Surface.Evaluate(ctx, `!!(window.__meetbot && window.__meetbot.hasAudio)`, &has)
	return has, err
}

// AudioLevel returns the average frequency energy of the captured audio.
func (p *PageProbe) AudioLevel(ctx context.Context) (float64, error) {
	var level float64
	if err := p.Surface.Evaluate(ctx, `window.__meetbot ? window.__meetbot.audioLevel() : -1`, &level); err != nil {
		return 0, err
	}
	if level < 0 {
		return 0, fmt.Errorf("recorder has no audio analyser")
	}
	return level, nil
}

// Participants returns the participant count, with known=false when no heuristic matched.
func (p *PageProbe) Participants(ctx context.Context) (int, bool, error) {
	var count *int
	if err := p.Surface.Evaluate(ctx, participantsExpr, &count); err != nil {
		return 0, false, err
	}
	if count == nil {
		return 0, false, nil
	}
	return *count, true, nil
}

// DismissDialogs clicks visible buttons labelled with one of labels.
func (p *PageProbe) DismissDialogs(ctx context.Context, labels []string) (int, error) {
	raw, err := json.Marshal(labels)
	if err != nil {
		return 0, err
	}
	var res dismissResult
	if err := p.Surface.Evaluate(ctx, fmt.Sprintf(dismissExpr, raw), &res); err != nil {
		return 0, err
	}
	if res.Errors > 0 {
		return res.Clicked, fmt.Errorf("%d dialog clicks failed: %s", res.Errors, res.LastError)
	}
	return res.Clicked, nil
}
