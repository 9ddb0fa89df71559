package bot

import (
	"fmt"

	"adventbot/internal/advent"
)

const (
	textSubscribed   = "Ты успешно подписан на ежедневные адвенты! Я буду писать раз в день 🎁"
	textUnsubscribed = "Подписка отключена. Если передумаешь — /subscribe"
	textNoEntryToday = "На сегодня ещё нет заполненного адвента."
	textFailed       = "Не удалось выполнить команду. Попробуй ещё раз позже."
	textForbidden    = "Эта команда доступна только администраторам."
	textUnknown      = "Неизвестная команда. Список команд — /help"
	textBusy         = "Бот сейчас занят, попробуй через минуту."

	textHelpTitle      = "Команды:"
	textAdminHelpTitle = "Админ-команды:"

	textUsageAddDay    = "Неверный формат. Пример:\n/admin_add_day 2025-12-26 | Игровой вечер | Описание игры и активности"
	textUsageShowDay   = "Неверный формат. Пример:\n/admin_show_day 2025-12-26"
	textUsageDeleteDay = "Неверный формат. Пример:\n/admin_delete_day 2025-12-26"
	textNoDays         = "Пока нет ни одного дня в календаре."

	textBroadcastNoEntry = "На сегодня адвент не заполнен. Сначала добавьте его через /admin_add_day."
)

var monthsGenitive = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// dayMonth renders a date as "26 декабря".
func dayMonth(d advent.Date) string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d %s", d.Day, monthsGenitive[d.Month-1])
}

func welcomeText(w advent.Window) string {
	return fmt.Sprintf("Привет! Я адвент-бот 🎄\n\n"+
		"С %s по %s я буду каждый день присылать тебе идеи: игры, рецепты и маршруты зимних прогулок.\n\n"+
		"Чтобы получать ежедневные адвенты, нажми /subscribe\n"+
		"Чтобы отписаться — /unsubscribe\n"+
		"Чтобы получить сегодняшний адвент вручную — /today",
		dayMonth(w.Start), dayMonth(w.End))
}

func inactiveText(w advent.Window) string {
	return fmt.Sprintf("Адвент-бот активен только с %s по %s.", dayMonth(w.Start), dayMonth(w.End))
}

func broadcastInactiveText(w advent.Window) string {
	return fmt.Sprintf("Сейчас бот вне периода адвента (%s — %s).", dayMonth(w.Start), dayMonth(w.End))
}

func savedText(e advent.Entry) string {
	return fmt.Sprintf("Адвент на %s сохранён.\nЗаголовок: %s", e.Date, e.Title)
}

func notFoundText(d advent.Date) string { return fmt.Sprintf("Адвента на дату %s нет.", d) }
func deletedText(d advent.Date) string  { return fmt.Sprintf("Адвент на дату %s удалён.", d) }
func notDeletedText(d advent.Date) string {
	return fmt.Sprintf("Адвента на дату %s не было.", d)
}

func broadcastDoneText(rep advent.Report) string {
	s := fmt.Sprintf("Отправил сегодняшний адвент %d подписчикам.", rep.Sent())
	if n := rep.Failed(); n > 0 {
		s += fmt.Sprintf("\nНе доставлено: %d.", n)
	}
	return s
}

func broadcastInterruptedText(rep advent.Report) string {
	return fmt.Sprintf("Рассылка прервана: отправлено %d, не доставлено %d.", rep.Sent(), rep.Failed())
}
