package mapper

// Columns is the fixed spreadsheet schema, one header per column. Every
// mapped row has exactly len(Columns) cells and each index has exactly one
// meaning; the header row in the sheet must match this list or is
// rewritten.
var Columns = []string{
	// Block 1: dates and analytics
	"Дата обращения (заявки)",
	"Месяц обращения",
	"Год обращения",
	// Block 2: deal identity
	"ID",
	"Название сделки",
	"Компания",
	"Основной контакт",
	"Компания контакта",
	"Ответственный",
	"Воронка",
	"Этап сделки",
	"Теги сделки",
	"Ближайшая задача",
	"Дата создания",
	"Кем создана",
	"Дата изменения",
	"Кем изменена",
	"Дата закрытия",
	// Block 3: finance
	"Бюджет",
	"ORDERID",
	"PAYMENTID",
	"TRANID",
	// Block 4: source and analytics
	"R.Источник сделки",
	"R.Тег города",
	"UTM_SOURCE",
	"UTM_MEDIUM",
	"UTM_CAMPAIGN",
	"UTM_TERM",
	"UTM_CONTENT",
	"utm_referrer",
	"YM_CLIENT_ID",
	"GA_CLIENT_ID",
	"gclid",
	"yclid",
	"REFERER",
	// Block 5: form and channel
	"FORMNAME",
	"FORMID",
	"BUTTON_TEXT",
	"COMMENTS",
	// Block 6: booking and event
	"Бар (deal)",
	"Адрес бара (если есть)",
	"Дата брони",
	"Время прихода",
	"Кол-во гостей",
	"QUANTITY",
	"_Зал",
	"Комментарий МОБ",
	"Тип лида (целевой/нецелевой)",
	"R.Статусы гостей",
	"Сарафан гости",
	"Причина отказа (ОБ)",
	// Block 7: contact details
	"Рабочий телефон (контакт)",
	"Мобильный телефон (контакт)",
	"Другой email (контакт)",
	"Номер линии MANGO OFFICE – основной",
	"Номер линии MANGO OFFICE (контакт)",
	// Block 8: notes
	"Примечание 1",
	"Примечание 2",
	"Примечание 3",
	"Примечание 4",
	"Примечание 5",
	// Block 9: technical
	"DATE",
	"TIME",
	"_ym_uid",
}

// KeyColumn is the zero-based index of the deal ID column, the upsert key.
const KeyColumn = 3
