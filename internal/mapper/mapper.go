// Package mapper converts a deal, its first related contact and company, and
// the reference tables into one fixed-length spreadsheet row. Mapping is a
// pure function of its inputs: unknown references and absent fields become
// empty strings, never errors.
package mapper

import (
	"strconv"
	"strings"
	"time"

	"github.com/nebar/barsync/internal/amocrm"
)

// Russian month names, indexed by time.Month-1.
var monthNames = [12]string{
	"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
	"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
}

// Lookups resolves user and pipeline IDs to display names.
type Lookups interface {
	UserName(id int64) string
	PipelineName(id int64) string
	StageName(pipelineID, statusID int64) string
}

// CustomField returns the first value of the first custom field whose name
// equals name exactly, or "" when the deal has no custom fields, no field
// matches, or the matched field has no values.
func CustomField(fields []amocrm.CustomFieldValue, name string) string {
	for _, f := range fields {
		if f.FieldName != name {
			continue
		}
		if len(f.Values) == 0 {
			return ""
		}
		return f.Values[0].Text()
	}
	return ""
}

// phoneByCode returns the contact phone value whose enum code matches code
// (WORK, MOB, ...), or "".
func phoneByCode(contact *amocrm.Contact, code string) string {
	if contact == nil {
		return ""
	}
	for _, f := range contact.CustomFields {
		if f.FieldName != "Телефон" {
			continue
		}
		for _, v := range f.Values {
			if v.EnumCode == code {
				return v.Text()
			}
		}
		return ""
	}
	return ""
}

// emailByCode returns the contact email whose enum code matches code,
// falling back to the first email value when no typed match exists.
func emailByCode(contact *amocrm.Contact, code string) string {
	if contact == nil {
		return ""
	}
	for _, f := range contact.CustomFields {
		if f.FieldName != "Email" {
			continue
		}
		for _, v := range f.Values {
			if v.EnumCode == code {
				return v.Text()
			}
		}
		if len(f.Values) > 0 {
			return f.Values[0].Text()
		}
		return ""
	}
	return ""
}

// formatDate renders a Unix-second timestamp as DD.MM.YYYY in loc,
// "" for zero.
func formatDate(ts int64, loc *time.Location) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).In(loc).Format("02.01.2006")
}

// formatDateTime renders a Unix-second timestamp as "DD.MM.YYYY, HH:MM:SS"
// in loc, "" for zero.
func formatDateTime(ts int64, loc *time.Location) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).In(loc).Format("02.01.2006, 15:04:05")
}

// monthYear splits a Unix-second timestamp into a localized month name and
// a four-digit year, both "" for zero.
func monthYear(ts int64, loc *time.Location) (month, year string) {
	if ts == 0 {
		return "", ""
	}
	d := time.Unix(ts, 0).In(loc)
	return monthNames[d.Month()-1], strconv.Itoa(d.Year())
}

// MapDealToRow builds the spreadsheet row for one deal. At most the first
// contact and first company are used. The result always has exactly
// len(Columns) cells.
func MapDealToRow(
	deal *amocrm.Deal,
	contacts []amocrm.Contact,
	companies []amocrm.Company,
	lookups Lookups,
	loc *time.Location,
) []string {
	row := make([]string, len(Columns))

	set := func(i int, v string) {
		if i >= 0 && i < len(row) {
			row[i] = v
		}
	}
	custom := func(name string) string {
		return CustomField(deal.CustomFields, name)
	}

	var contact *amocrm.Contact
	if len(contacts) > 0 {
		contact = &contacts[0]
	}
	var companyName string
	if len(companies) > 0 {
		companyName = companies[0].Name
	}

	month, year := monthYear(deal.CreatedAt, loc)

	// Block 1: dates and analytics
	set(0, formatDate(deal.CreatedAt, loc))
	set(1, month)
	set(2, year)

	// Block 2: deal identity
	set(3, strconv.FormatInt(deal.ID, 10))
	set(4, deal.Name)
	set(5, companyName)
	if contact != nil {
		set(6, contact.Name)
		set(7, contact.CompanyName())
	}
	set(8, lookups.UserName(deal.ResponsibleUserID))
	set(9, lookups.PipelineName(deal.PipelineID))
	set(10, lookups.StageName(deal.PipelineID, deal.StatusID))
	set(11, joinTags(deal.TagList()))
	set(12, custom("Ближайшая задача"))
	set(13, formatDateTime(deal.CreatedAt, loc))
	set(14, lookups.UserName(deal.CreatedBy))
	set(15, formatDateTime(deal.UpdatedAt, loc))
	set(16, lookups.UserName(deal.UpdatedBy))
	set(17, formatDateTime(deal.ClosedAt, loc))

	// Block 3: finance
	set(18, formatPrice(deal.Price))
	set(19, custom("ORDERID"))
	set(20, custom("PAYMENTID"))
	set(21, custom("TRANID"))

	// Block 4: source and analytics
	set(22, custom("R.Источник сделки"))
	set(23, custom("R.Тег города"))
	set(24, custom("UTM_SOURCE"))
	set(25, custom("UTM_MEDIUM"))
	set(26, custom("UTM_CAMPAIGN"))
	set(27, custom("UTM_TERM"))
	set(28, custom("UTM_CONTENT"))
	set(29, custom("utm_referrer"))
	set(30, custom("YM_CLIENT_ID"))
	set(31, custom("GA_CLIENT_ID"))
	set(32, custom("gclid"))
	set(33, custom("yclid"))
	set(34, custom("REFERER"))

	// Block 5: form and channel
	set(35, custom("FORMNAME"))
	set(36, custom("FORMID"))
	set(37, custom("BUTTON_TEXT"))
	set(38, custom("COMMENTS"))

	// Block 6: booking and event
	set(39, custom("Бар (deal)"))
	set(40, custom("Адрес бара (если есть)"))
	set(41, custom("Дата брони"))
	set(42, custom("Время прихода"))
	set(43, custom("Кол-во гостей"))
	set(44, custom("QUANTITY"))
	set(45, custom("_Зал"))
	set(46, custom("Комментарий МОБ"))
	set(47, custom("Тип лида (целевой/нецелевой)"))
	set(48, custom("R.Статусы гостей"))
	set(49, custom("Сарафан гости"))
	set(50, custom("Причина отказа (ОБ)"))

	// Block 7: contact details
	set(51, phoneByCode(contact, "WORK"))
	set(52, phoneByCode(contact, "MOB"))
	set(53, emailByCode(contact, "OTHER"))
	set(54, custom("Номер линии MANGO OFFICE – основной"))
	set(55, custom("Номер линии MANGO OFFICE (контакт)"))

	// Block 8: notes
	set(56, custom("Примечание 1"))
	set(57, custom("Примечание 2"))
	set(58, custom("Примечание 3"))
	set(59, custom("Примечание 4"))
	set(60, custom("Примечание 5"))

	// Block 9: technical
	set(61, custom("DATE"))
	set(62, custom("TIME"))
	set(63, custom("_ym_uid"))

	return row
}

func joinTags(tags []amocrm.Tag) string {
	if len(tags) == 0 {
		return ""
	}
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Name
	}
	return strings.Join(names, ", ")
}

// formatPrice renders the budget, keeping the zero-as-empty convention the
// sheet has always used.
func formatPrice(price int64) string {
	if price == 0 {
		return ""
	}
	return strconv.FormatInt(price, 10)
}
