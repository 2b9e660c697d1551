package cdp

import (
	"fmt"
	"strconv"

	"github.com/odvcencio/pilot/pkg/browser"
)

// jsString renders s as a JavaScript string literal. Go's quoted form
// uses the same escape syntax for everything we feed through here.
func jsString(s string) string {
	return strconv.Quote(s)
}

func clickScript(index int) string {
	return fmt.Sprintf(`(() => {
  const els = document.querySelectorAll(%s);
  const el = els[%d];
  if (!el) { return "no interactive element at index %d"; }
  el.scrollIntoView({block: "center", inline: "center"});
  el.click();
  const label = (el.innerText || el.value || el.getAttribute("aria-label") || "").trim().slice(0, 40);
  return "clicked [%d] <" + el.tagName.toLowerCase() + ">" + (label ? " " + JSON.stringify(label) : "");
})()`, jsString(browser.InteractiveSelector), index, index, index)
}

func typeScript(index int, text string) string {
	return fmt.Sprintf(`(() => {
  const els = document.querySelectorAll(%s);
  const el = els[%d];
  if (!el) { return "no interactive element at index %d"; }
  el.scrollIntoView({block: "center", inline: "center"});
  el.focus();
  const value = %s;
  if (el.isContentEditable) {
    el.textContent = value;
  } else {
    el.value = value;
  }
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  return "typed into [%d] <" + el.tagName.toLowerCase() + ">";
})()`, jsString(browser.InteractiveSelector), index, index, jsString(text), index)
}

func scrollScript(delta int) string {
	return fmt.Sprintf(`(() => {
  window.scrollBy({top: %d, behavior: "instant"});
  return "scrolled by %d to y=" + Math.round(window.scrollY);
})()`, delta, delta)
}
