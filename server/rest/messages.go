package rest

import "strings"

const (
	msgNetworkError   = "network_error"
	msgRequestFailed  = "request_failed"
	msgLoginRequired  = "login_required"
	msgPaymentFailed  = "payment_failed"
	msgInvalidRequest = "invalid_request"
	msgNotFound       = "not_found"
	msgRateLimited    = "rate_limited"
)

var catalog = map[string]map[string]string{
	"en": {
		msgNetworkError:   "Unable to reach the server. Please check your connection and try again.",
		msgRequestFailed:  "Something went wrong. Please try again.",
		msgLoginRequired:  "Please log in to continue.",
		msgPaymentFailed:  "The payment could not be processed. Please try again.",
		msgInvalidRequest: "Some of the submitted information is invalid.",
		msgNotFound:       "The requested item was not found.",
		msgRateLimited:    "Too many requests. Please wait a moment and try again.",
	},
	"ar": {
		msgNetworkError:   "تعذر الاتصال بالخادم. يرجى التحقق من الاتصال والمحاولة مرة أخرى.",
		msgRequestFailed:  "حدث خطأ ما. يرجى المحاولة مرة أخرى.",
		msgLoginRequired:  "يرجى تسجيل الدخول للمتابعة.",
		msgPaymentFailed:  "تعذرت معالجة عملية الدفع. يرجى المحاولة مرة أخرى.",
		msgInvalidRequest: "بعض البيانات المدخلة غير صحيحة.",
		msgNotFound:       "العنصر المطلوب غير موجود.",
		msgRateLimited:    "طلبات كثيرة جدا. يرجى الانتظار قليلا ثم المحاولة مرة أخرى.",
	},
}

const defaultLocale = "ar"

// Message returns the localized text for key, falling back to Arabic and
// then to the key itself.
func Message(locale, key string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if texts, ok := catalog[locale]; ok {
		if text, ok := texts[key]; ok {
			return text
		}
	}
	if text, ok := catalog[defaultLocale][key]; ok {
		return text
	}
	return key
}
