// Package publishing публикует запланированные посты.
//
// Dispatcher захватывает пост (SCHEDULED или FAILED → PROCESSING условным
// UPDATE) и ставит задачу publish. Захват — единственная точка
// синхронизации между poller и ручным publish now.
//
// Pipeline выполняет одну попытку публикации захваченного поста через
// executor: адаптер платформы из Registry, артефакт, связанный аккаунт,
// текст с хэштегами. После успешного MarkPosted явно создаётся
// заготовка аналитики.
package publishing
