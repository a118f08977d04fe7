package httpx

import (
	"net/http"

	"golang.org/x/text/language"

	"github.com/Sad0asc0Sh/user-sub000/internal/platform/requestctx"
)

var supportedLocales = []language.Tag{
	language.English,
	language.Persian,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// Customer-facing messages for error codes whose default text is not already localised.
// English is the default and uses the handler-supplied message.
var catalog = map[language.Tag]map[string]string{
	language.Persian: {
		"out_of_stock":       "موجودی کالا کافی نیست",
		"coupon_invalid":     "کد تخفیف معتبر نیست",
		"coupon_not_found":   "کد تخفیف یافت نشد",
		"coupon_expired":     "کد تخفیف منقضی شده است",
		"coupon_minimum":     "مبلغ سفارش به حداقل لازم نرسیده است",
		"coupon_exhausted":   "ظرفیت استفاده از کد تخفیف تمام شده است",
		"gateway_error":      "درگاه پرداخت در دسترس نیست",
		"amount_mismatch":    "مبلغ پرداخت با مبلغ سفارش مطابقت ندارد",
		"invalid_transition": "تغییر وضعیت مجاز نیست",
		"not_found":          "یافت نشد",
		"unauthenticated":    "احراز هویت لازم است",
	},
}

// LocaleMiddleware negotiates the response language from the lang query parameter
// or the Accept-Language header and stores it on the request context.
func LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := MatchLocale(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
		ctx := requestctx.WithLocale(r.Context(), tag)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MatchLocale resolves the best supported language for the supplied preferences.
func MatchLocale(preferences ...string) language.Tag {
	_, index := language.MatchStrings(localeMatcher, preferences...)
	return supportedLocales[index]
}

// LocalizedMessage returns the translated message for code, if one exists.
func LocalizedMessage(tag language.Tag, code string) (string, bool) {
	base, _ := tag.Base()
	for locale, messages := range catalog {
		if lb, _ := locale.Base(); lb == base {
			msg, ok := messages[code]
			return msg, ok
		}
	}
	return "", false
}
