package response

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

var (
	supported = []language.Tag{language.English, language.Arabic}
	matcher   = language.NewMatcher(supported)
)

type localized struct {
	en, ar string
}

var catalog = map[string]localized{
	"internal":             {"internal error", "حدث خطأ داخلي"},
	"invalid_request":      {"invalid request", "طلب غير صالح"},
	"unauthenticated":      {"authentication required", "المستخدم غير مصادق عليه"},
	"invalid_token":        {"invalid or expired token", "رمز الدخول غير صالح أو منتهي الصلاحية"},
	"session_revoked":      {"session revoked, sign in again", "تم إلغاء الجلسة، يرجى تسجيل الدخول مرة أخرى"},
	"invalid_credentials":  {"invalid credentials", "بيانات الدخول غير صحيحة"},
	"admin_required":       {"only admins can manage members", "فقط المسؤولون يمكنهم دعوة المستخدمين"},
	"business_not_allowed": {"you do not have access to this business", "ليس لديك صلاحية لإدارة هذا العمل"},
	"no_valid_role":        {"your account has no valid role", "ليس لديك دور صالح"},
	"ops_token_required":   {"operator credentials required", "مطلوب صلاحيات المشغل"},
	"ops_token_invalid":    {"invalid operator credentials", "صلاحيات المشغل غير صحيحة"},
	"contact_required":     {"email or phone is required", "البريد الإلكتروني أو رقم الهاتف مطلوب"},
	"invalid_role":         {"role must be admin or driver", "الدور يجب أن يكون admin أو driver"},
	"invalid_ids":          {"business id and member id are required", "معرف العمل ومعرف السائق مطلوبان"},
	"secret_too_short":     {"password must be at least 6 characters", "كلمة المرور غير صالحة (يجب أن تكون 6 أحرف على الأقل)"},
	"name_required":        {"name is required", "الاسم مطلوب"},
	"name_too_short":       {"name must be at least 2 characters", "الاسم يجب أن يكون على الأقل حرفين"},
	"name_too_long":        {"name is too long (maximum 50 characters)", "الاسم طويل جداً (الحد الأقصى 50 حرف)"},
	"not_a_driver":         {"the selected member is not a driver", "المستخدم المحدد ليس سائقاً"},
	"membership_not_found": {"member not found", "السائق غير موجود"},
	"principal_not_found":  {"account not found", "حساب السائق غير موجود في نظام المصادقة"},
	"principal_exists":     {"account already exists", "الحساب موجود بالفعل"},
	"claims_conflict":      {"permissions changed concurrently, retry", "تم تعديل الصلاحيات في نفس الوقت، حاول مرة أخرى"},
}

// Message returns the text for code in the request's preferred language.
func Message(c *gin.Context, code string) string {
	entry, ok := catalog[code]
	if !ok {
		entry = catalog["internal"]
	}
	if Lang(c.GetHeader("Accept-Language")) == language.Arabic {
		return entry.ar
	}
	return entry.en
}

// Lang picks the best supported language for an Accept-Language header. English is the default.
func Lang(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}
