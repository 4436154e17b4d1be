package pipeline

// Messages are the fixed user-facing replies.
type Messages struct {
	StatusOK      string
	Searching     string
	NotFound      string
	NoGoodResult  string
	MissingLink   string
	Busy          string
	Temporary     string
	NotConfigured string
	// SearchFailed is a format string receiving the shortened reason.
	SearchFailed string
}

// HebrewMessages is the default reply set.
var HebrewMessages = Messages{
	StatusOK:      "בוט תקין 🤖",
	Searching:     "🔎 מחפש עבורך… זה לוקח בין 5–7 שניות 🔥",
	NotFound:      "לא מצאתי כרגע תוצאות 😕 נסה לכתוב את זה אחרת.",
	NoGoodResult:  "לא מצאתי כרגע תוצאה טובה 😕 נסה שוב עוד רגע.",
	MissingLink:   "מצאתי מוצר אבל חסר קישור מקור 😕 נסה שוב.",
	Busy:          "⏳ יש כרגע עומס חיפושים, נסה שוב בעוד דקה.",
	Temporary:     "⚠️ יש תקלה זמנית בחיבור לאלי אקספרס. נסה שוב עוד רגע.",
	NotConfigured: "⚠️ הבוט עדיין לא הוגדר עד הסוף. פנה למנהל הקבוצה.",
	SearchFailed:  "⚠️ תקלה בחיפוש: %s\nנסה שוב עוד רגע.",
}
